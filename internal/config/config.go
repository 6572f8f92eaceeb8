// Package config loads maptalk configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
}

type AssistantCfg struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool

	RedisAddr        string
	SnapshotKey      string
	AutosaveInterval time.Duration

	CacheTTLDefault      time.Duration
	CacheMaxEntries      int
	CacheCleanupInterval time.Duration

	ThrottleMaxConcurrent int
	ThrottleMaxPerSecond  int
	ThrottleBurst         int
	ThrottleCooldown      time.Duration

	BatchMaxSize    int
	BatchMaxDelay   time.Duration
	BatchRetries    int
	BatchRetryDelay time.Duration

	ClusterMinPoints int
	ClusterMaxZoom   int

	HistoryMax int
	PoolSize   int

	Events    EventsCfg
	Assistant AssistantCfg
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),

		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		SnapshotKey:      getenv("SNAPSHOT_KEY", "maptalk:map-state"),
		AutosaveInterval: getduration("AUTOSAVE_INTERVAL", 30*time.Second),

		CacheTTLDefault:      getduration("CACHE_TTL_DEFAULT", 5*time.Minute),
		CacheMaxEntries:      getint("CACHE_MAX_ENTRIES", 100),
		CacheCleanupInterval: getduration("CACHE_CLEANUP_INTERVAL", time.Minute),

		ThrottleMaxConcurrent: getint("THROTTLE_MAX_CONCURRENT", 5),
		ThrottleMaxPerSecond:  getint("THROTTLE_MAX_PER_SECOND", 10),
		ThrottleBurst:         getint("THROTTLE_BURST", 20),
		ThrottleCooldown:      getduration("THROTTLE_COOLDOWN", time.Second),

		BatchMaxSize:    getint("BATCH_MAX_SIZE", 10),
		BatchMaxDelay:   getduration("BATCH_MAX_DELAY", 100*time.Millisecond),
		BatchRetries:    getint("BATCH_RETRIES", 3),
		BatchRetryDelay: getduration("BATCH_RETRY_DELAY", time.Second),

		ClusterMinPoints: getint("CLUSTER_MIN_POINTS", 3),
		ClusterMaxZoom:   getint("CLUSTER_MAX_ZOOM", 20),

		HistoryMax: getint("HISTORY_MAX", 50),
		PoolSize:   getint("WORKER_POOL_SIZE", 4),

		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("EVENTS_TOPIC", "maptalk-mutations"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
		Assistant: AssistantCfg{
			APIKey:  getenv("OPENAI_API_KEY", ""),
			BaseURL: getenv("OPENAI_BASE_URL", ""),
			Model:   getenv("OPENAI_MODEL", "gpt-4o-mini"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
