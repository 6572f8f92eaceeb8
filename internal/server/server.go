// Package server wires the HTTP API over the command core.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maptalk/maptalk/internal/assistant"
	"github.com/maptalk/maptalk/internal/batch"
	"github.com/maptalk/maptalk/internal/cache"
	"github.com/maptalk/maptalk/internal/cluster"
	"github.com/maptalk/maptalk/internal/executor"
	"github.com/maptalk/maptalk/internal/export"
	"github.com/maptalk/maptalk/internal/health"
	"github.com/maptalk/maptalk/internal/history"
	imw "github.com/maptalk/maptalk/internal/middleware"
	"github.com/maptalk/maptalk/internal/model"
	"github.com/maptalk/maptalk/internal/router"
	"github.com/maptalk/maptalk/internal/store"
	"github.com/maptalk/maptalk/internal/throttle"
)

// Deps collects everything the HTTP surface needs. All fields except
// Assistant and Batch are required.
type Deps struct {
	Store     *store.Store
	Executor  *executor.Service
	Assistant *assistant.Client
	Cache     *cache.Cache
	Throttle  *throttle.Manager
	Batch     *batch.Processor[string, int]
	Cluster   *cluster.Engine
	History   *history.Tracker
	Ready     map[string]health.Check
	Logger    *slog.Logger
}

type App struct {
	deps         Deps
	logger       *slog.Logger
	clusterDirty atomic.Bool
}

func New(deps Deps) *App {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	a := &App{deps: deps, logger: deps.Logger}
	a.clusterDirty.Store(true)
	return a
}

// InvalidateClusters marks the cluster index stale; the next cluster query
// reloads it from the store. Wired to store mutations.
func (a *App) InvalidateClusters() {
	a.clusterDirty.Store(true)
	if a.deps.Cache != nil {
		a.deps.Cache.Clear("clusters")
	}
}

func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(imw.Recover(a.logger))
	r.Use(imw.Logging(a.logger))
	r.Use(imw.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(a.deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/assistant/message", a.handleAssistantMessage)
	r.Post("/commands", a.handleCommands)

	r.Get("/map/state", a.handleMapState)
	r.Post("/map/undo", a.handleUndo)
	r.Post("/map/redo", a.handleRedo)

	r.Get("/map/clusters", a.handleClusters)
	r.Get("/map/clusters/{id}/expansion-zoom", a.handleClusterExpansionZoom)
	r.Get("/map/clusters/{id}/leaves", a.handleClusterLeaves)
	r.Get("/map/clusters/{id}/bounds", a.handleClusterBounds)

	r.Get("/export/geojson", a.handleExportGeoJSON)
	r.Get("/export/kml", a.handleExportKML)
	r.Post("/import/geojson", a.handleImportGeoJSON)

	r.Get("/cache/stats", a.handleCacheStats)
	r.Post("/cache/clear", a.handleCacheClear)

	return r
}

// Run serves until ctx is cancelled, then drains with a grace period.
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type assistantRequest struct {
	Message string `json:"message"`
}

type assistantResponse struct {
	Reply    string `json:"reply"`
	Executed int    `json:"commandsExecuted"`
}

// handleAssistantMessage sends the user message upstream, then runs any
// directives embedded in the reply. An upstream failure still answers 200
// with the generic fallback text so the chat stays usable.
func (a *App) handleAssistantMessage(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if a.deps.Assistant == nil || !a.deps.Assistant.Configured() {
		http.Error(w, "assistant is not configured", http.StatusServiceUnavailable)
		return
	}

	reply, err := a.deps.Assistant.Respond(r.Context(), req.Message)
	if err != nil {
		writeJSON(w, http.StatusOK, assistantResponse{Reply: assistant.FallbackReply})
		return
	}

	executed, err := a.applyText(r.Context(), reply)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assistantResponse{Reply: reply, Executed: executed})
}

type commandsRequest struct {
	Text string `json:"text"`
}

// handleCommands executes directives embedded in raw text, bypassing the
// assistant. Used by the frontend for replays and by tests.
func (a *App) handleCommands(w http.ResponseWriter, r *http.Request) {
	var req commandsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	executed, err := a.applyText(r.Context(), req.Text)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"commandsExecuted": executed})
}

// applyText pushes the text through the batcher when one is wired, under
// the throttle either way.
func (a *App) applyText(ctx context.Context, text string) (int, error) {
	var executed int
	run := func(ctx context.Context) error {
		if a.deps.Batch != nil {
			n, err := a.deps.Batch.Add(ctx, text)
			executed = n
			return err
		}
		_, executed = a.deps.Executor.Apply(ctx, text)
		return nil
	}
	if a.deps.Throttle != nil {
		if err := a.deps.Throttle.Execute(ctx, run); err != nil {
			return 0, err
		}
		return executed, nil
	}
	return executed, run(ctx)
}

func (a *App) handleMapState(w http.ResponseWriter, _ *http.Request) {
	state := a.deps.Store.Snapshot()
	if a.deps.History != nil {
		state.History = a.deps.History.State()
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *App) handleUndo(w http.ResponseWriter, _ *http.Request) {
	if a.deps.History == nil {
		http.Error(w, "history disabled", http.StatusNotImplemented)
		return
	}
	_, ok := a.deps.History.Undo()
	undo, redo := a.deps.History.Depths()
	writeJSON(w, http.StatusOK, map[string]interface{}{"undone": ok, "undoDepth": undo, "redoDepth": redo})
}

func (a *App) handleRedo(w http.ResponseWriter, _ *http.Request) {
	if a.deps.History == nil {
		http.Error(w, "history disabled", http.StatusNotImplemented)
		return
	}
	_, ok := a.deps.History.Redo()
	undo, redo := a.deps.History.Depths()
	writeJSON(w, http.StatusOK, map[string]interface{}{"redone": ok, "undoDepth": undo, "redoDepth": redo})
}

func (a *App) handleClusters(w http.ResponseWriter, r *http.Request) {
	q, err := router.ParseClusterQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := cache.GenerateKey("clusters", map[string]interface{}{"bbox": q.BBox.String(), "zoom": q.Zoom})
	if a.deps.Cache != nil && !a.clusterDirty.Load() {
		if v, ok := a.deps.Cache.Get(key); ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	if err := a.reloadClustersIfDirty(); err != nil {
		a.httpError(w, err)
		return
	}
	features, err := a.deps.Cluster.GetClusters(q.BBox, q.Zoom)
	if err != nil {
		a.httpError(w, err)
		return
	}
	resp := map[string]interface{}{"features": features, "count": len(features)}
	if a.deps.Cache != nil {
		a.deps.Cache.Set(key, resp, 0)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleClusterExpansionZoom(w http.ResponseWriter, r *http.Request) {
	id, ok := a.clusterID(w, r)
	if !ok {
		return
	}
	zoom, err := a.deps.Cluster.GetClusterExpansionZoom(id)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expansionZoom": zoom})
}

func (a *App) handleClusterLeaves(w http.ResponseWriter, r *http.Request) {
	id, ok := a.clusterID(w, r)
	if !ok {
		return
	}
	limit, offset := router.ParsePage(r, 10)
	leaves, err := a.deps.Cluster.GetClusterLeaves(id, limit, offset)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaves": leaves, "count": len(leaves)})
}

func (a *App) handleClusterBounds(w http.ResponseWriter, r *http.Request) {
	id, ok := a.clusterID(w, r)
	if !ok {
		return
	}
	bounds, err := a.deps.Cluster.GetClusterBounds(id)
	if err != nil {
		a.httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bounds": bounds})
}

func (a *App) handleExportGeoJSON(w http.ResponseWriter, _ *http.Request) {
	data, err := export.GeoJSON(a.deps.Store.Snapshot())
	if err != nil {
		a.httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", `attachment; filename="maptalk.geojson"`)
	_, _ = w.Write(data)
}

func (a *App) handleExportKML(w http.ResponseWriter, _ *http.Request) {
	data, err := export.KML(a.deps.Store.Snapshot())
	if err != nil {
		a.httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="maptalk.kml"`)
	_, _ = w.Write(data)
}

// handleImportGeoJSON loads an uploaded FeatureCollection into a layer.
// The target layer comes from ?layer= and defaults to "imported".
func (a *App) handleImportGeoJSON(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, 16<<20)
	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	fc, err := export.ParseGeoJSON(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	layerName := r.URL.Query().Get("layer")
	if layerName == "" {
		layerName = "imported"
	}
	layerID := a.deps.Store.EnsureLayer(layerName, model.LayerFeature)
	added := 0
	for _, f := range fc.Features {
		if a.deps.Store.AddFeatureToLayer(layerID, f) {
			added++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"layerId": layerID, "imported": added})
}

func (a *App) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if a.deps.Cache == nil {
		http.Error(w, "cache disabled", http.StatusNotImplemented)
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Cache.Stats())
}

func (a *App) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if a.deps.Cache == nil {
		http.Error(w, "cache disabled", http.StatusNotImplemented)
		return
	}
	a.deps.Cache.Clear(r.URL.Query().Get("pattern"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) reloadClustersIfDirty() error {
	if !a.clusterDirty.Load() {
		return nil
	}
	if err := a.deps.Cluster.LoadFeatures(a.deps.Store.AllFeatures()); err != nil {
		return err
	}
	a.clusterDirty.Store(false)
	return nil
}

func (a *App) clusterID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid cluster id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (a *App) httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cluster.ErrUnknownCluster):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, throttle.ErrDisposed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	default:
		a.logger.Error("request failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
