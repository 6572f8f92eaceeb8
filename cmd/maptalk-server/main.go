package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/maptalk/maptalk/internal/assistant"
	"github.com/maptalk/maptalk/internal/batch"
	"github.com/maptalk/maptalk/internal/cache"
	"github.com/maptalk/maptalk/internal/cluster"
	"github.com/maptalk/maptalk/internal/config"
	"github.com/maptalk/maptalk/internal/events"
	"github.com/maptalk/maptalk/internal/executor"
	"github.com/maptalk/maptalk/internal/health"
	"github.com/maptalk/maptalk/internal/history"
	"github.com/maptalk/maptalk/internal/logger"
	"github.com/maptalk/maptalk/internal/model"
	"github.com/maptalk/maptalk/internal/observability"
	"github.com/maptalk/maptalk/internal/parser"
	"github.com/maptalk/maptalk/internal/persist"
	"github.com/maptalk/maptalk/internal/server"
	"github.com/maptalk/maptalk/internal/spatial"
	"github.com/maptalk/maptalk/internal/store"
	"github.com/maptalk/maptalk/internal/throttle"
	"github.com/maptalk/maptalk/internal/workerpool"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "maptalk-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting maptalk", "addr", cfg.Addr, "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(appLog)
	engine := spatial.New(appLog)
	surface := executor.NewStoreSurface(st, engine, appLog)
	exec := executor.New(parser.New(appLog), surface, appLog)

	queryCache := cache.New(cache.Config{
		DefaultTTL:      cfg.CacheTTLDefault,
		MaxEntries:      cfg.CacheMaxEntries,
		CleanupInterval: cfg.CacheCleanupInterval,
	}, appLog)
	defer queryCache.Close()

	thr := throttle.New(throttle.Config{
		MaxConcurrent: cfg.ThrottleMaxConcurrent,
		MaxPerSecond:  cfg.ThrottleMaxPerSecond,
		Burst:         cfg.ThrottleBurst,
		Cooldown:      cfg.ThrottleCooldown,
	}, appLog)
	defer thr.Dispose()

	pool := workerpool.New(cfg.PoolSize, appLog)
	defer pool.Close()

	batcher := batch.New(batch.Config{
		MaxSize:    cfg.BatchMaxSize,
		MaxDelay:   cfg.BatchMaxDelay,
		Retries:    cfg.BatchRetries,
		RetryDelay: cfg.BatchRetryDelay,
	}, func(ctx context.Context, texts []string) ([]int, error) {
		results := make([]int, len(texts))
		for i, text := range texts {
			v, err := pool.Execute(ctx, func(ctx context.Context) (interface{}, error) {
				_, n := exec.Apply(ctx, text)
				return n, nil
			})
			if err != nil {
				return nil, err
			}
			results[i] = v.(int)
		}
		return results, nil
	}, appLog)
	defer batcher.Close()

	clusters := cluster.New(cluster.Config{
		MinPoints: cfg.ClusterMinPoints,
		MaxZoom:   cfg.ClusterMaxZoom,
	}, appLog)

	tracker := history.New(cfg.HistoryMax, appLog)
	guard := &replayGuard{}
	tracker.SetCallbacks(
		func(op history.Operation) { applyHistory(st, op, true, guard, appLog) },
		func(op history.Operation) { applyHistory(st, op, false, guard, appLog) },
	)

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		var err error
		publisher, err = events.NewPublisher(strings.Split(cfg.Events.Brokers, ","), cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("event publisher unavailable, continuing without", "err", err)
		} else {
			defer func() { _ = publisher.Close() }()
		}
	}

	ai := assistant.New(cfg.Assistant.APIKey, cfg.Assistant.BaseURL, cfg.Assistant.Model, appLog)

	ready := map[string]health.Check{}
	snapshots := openSnapshotStore(ctx, cfg, ready, appLog)
	restoreSnapshot(ctx, snapshots, st, appLog)

	app := server.New(server.Deps{
		Store:     st,
		Executor:  exec,
		Assistant: ai,
		Cache:     queryCache,
		Throttle:  thr,
		Batch:     batcher,
		Cluster:   clusters,
		History:   tracker,
		Ready:     ready,
		Logger:    appLog,
	})

	st.OnMutation(func(m store.Mutation) {
		app.InvalidateClusters()
		recordHistory(tracker, guard, m)
		publisher.Publish(events.Event{
			Kind:      string(m.Kind),
			LayerID:   m.LayerID,
			FeatureID: m.FeatureID,
		})
	})

	saver := persist.NewAutoSaver(snapshots, func() ([]byte, error) {
		state := st.Snapshot()
		state.History = tracker.State()
		return json.Marshal(state)
	}, cfg.AutosaveInterval, nil, appLog)
	go saver.Run(ctx)

	go pollThrottleDepth(ctx, thr)

	if err := server.Run(ctx, cfg.Addr, app.Routes(), appLog); err != nil {
		appLog.Error("server failed", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}

// openSnapshotStore prefers Redis and falls back to process memory when the
// connection fails, so the service still comes up without a cache tier.
func openSnapshotStore(ctx context.Context, cfg config.Config, ready map[string]health.Check, log *slog.Logger) persist.SnapshotStore {
	rs, err := persist.NewRedisStore(ctx, cfg.RedisAddr, cfg.SnapshotKey)
	if err != nil {
		log.Warn("redis unavailable, snapshots held in memory", "addr", cfg.RedisAddr, "err", err)
		return persist.NewMemoryStore()
	}
	log.Info("snapshot store connected", "addr", cfg.RedisAddr, "key", cfg.SnapshotKey)
	ready["redis"] = func(ctx context.Context) error {
		_, err := rs.Load(ctx)
		if err == persist.ErrNoSnapshot {
			return nil
		}
		return err
	}
	return rs
}

func restoreSnapshot(ctx context.Context, snapshots persist.SnapshotStore, st *store.Store, log *slog.Logger) {
	data, err := snapshots.Load(ctx)
	if err == persist.ErrNoSnapshot {
		return
	}
	if err != nil {
		log.Warn("snapshot load failed, starting empty", "err", err)
		return
	}
	var state model.MapState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn("snapshot decode failed, starting empty", "err", err)
		return
	}
	st.Restore(state)
	log.Info("snapshot restored", "bytes", len(data))
}

// replayGuard suppresses history recording for the mutations a replay
// emits itself, keyed by the feature under replay. Unrelated mutations
// arriving during a replay still record normally.
type replayGuard struct {
	mu  sync.Mutex
	key string
}

func (g *replayGuard) begin(layerID, featureID string) {
	g.mu.Lock()
	g.key = layerID + "/" + featureID
	g.mu.Unlock()
}

func (g *replayGuard) end() {
	g.mu.Lock()
	g.key = ""
	g.mu.Unlock()
}

func (g *replayGuard) suppressed(layerID, featureID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.key != "" && g.key == layerID+"/"+featureID
}

func recordHistory(tracker *history.Tracker, guard *replayGuard, m store.Mutation) {
	if guard.suppressed(m.LayerID, m.FeatureID) {
		return
	}
	switch m.Kind {
	case store.MutationCreate:
		tracker.RecordCreate(m.LayerID, m.FeatureID, m.After)
	case store.MutationModify:
		tracker.RecordModify(m.LayerID, m.FeatureID, m.Before, m.After)
	case store.MutationDelete:
		tracker.RecordDelete(m.LayerID, m.FeatureID, m.Before)
	}
}

// applyHistory replays an operation against the store in the requested
// direction. The guard keeps the replay's own mutations from being recorded
// as new history.
func applyHistory(st *store.Store, op history.Operation, undo bool, guard *replayGuard, log *slog.Logger) {
	guard.begin(op.LayerID, op.FeatureID)
	defer guard.end()

	ok := true
	switch {
	case op.Kind == history.KindCreate && undo,
		op.Kind == history.KindDelete && !undo:
		ok = st.RemoveFeature(op.LayerID, op.FeatureID)
	case op.Kind == history.KindCreate && !undo:
		ok = st.AddFeatureToLayer(op.LayerID, op.After)
	case op.Kind == history.KindDelete && undo:
		ok = st.AddFeatureToLayer(op.LayerID, op.Before)
	case op.Kind == history.KindModify || op.Kind == history.KindStyle:
		target := op.Before
		if !undo {
			target = op.After
		}
		// full replacement, not a merge: remove then re-add the recorded state
		if st.RemoveFeature(op.LayerID, op.FeatureID) {
			ok = st.AddFeatureToLayer(op.LayerID, target)
		} else {
			ok = false
		}
	}
	if !ok {
		log.Warn("history replay skipped, target gone",
			"kind", string(op.Kind), "layer_id", op.LayerID, "feature_id", op.FeatureID)
	}
}

func pollThrottleDepth(ctx context.Context, thr *throttle.Manager) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_, queued, _ := thr.Stats()
			observability.SetThrottleQueueDepth(queued)
		case <-ctx.Done():
			return
		}
	}
}
