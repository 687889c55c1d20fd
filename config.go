package worldlife

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config holds the service configuration, loaded from environment variables
// with the specified defaults. Interval options are plain milliseconds so
// the surface matches what the control panel and deploy scripts already
// emit.
type Config struct {
	// Address of the shared redis store (ownership records, entity
	// discovery, pathway feed).
	RedisAddress string `env:"WORLDLIFE_REDIS_ADDRESS" envDefault:"localhost:6379"`

	// Password for the shared redis store.
	RedisPassword string `env:"WORLDLIFE_REDIS_PASSWORD"`

	// Namespace prefixing every key and channel, so several worlds can
	// share one store.
	Namespace string `env:"WORLDLIFE_NAMESPACE" envDefault:"world"`

	// Port the HTTP boundary listens on.
	Port string `env:"WORLDLIFE_PORT" envDefault:"4050"`

	// Minimum level emitted by the logger.
	LogLevel string `env:"WORLDLIFE_LOG_LEVEL" envDefault:"info"`

	// Address of the statsd agent; leave empty to disable metrics.
	StatsdAddress string `env:"WORLDLIFE_STATSD_ADDRESS"`

	// Simulation tick cadence.
	SimulationIntervalMs int `env:"SIMULATION_INTERVAL_MS" envDefault:"250"`

	// How long a chunk stays active without a refresh from a player pod.
	ChunkTTLMs int `env:"CHUNK_TTL_MS" envDefault:"300000"`

	// Cadence of the chunk TTL sweep.
	ChunkTTLCleanupIntervalMs int `env:"CHUNK_TTL_CLEANUP_INTERVAL_MS" envDefault:"30000"`

	// Cadence of the ownership heartbeat batch.
	OwnershipHeartbeatIntervalMs int `env:"OWNERSHIP_HEARTBEAT_INTERVAL_MS" envDefault:"5000"`

	// Age past which an ownership record counts as abandoned.
	OwnershipStaleThresholdMs int `env:"OWNERSHIP_STALE_THRESHOLD_MS" envDefault:"15000"`

	// Cadence of the orphaned-entity scan.
	OrphanDetectionIntervalMs int `env:"ORPHAN_DETECTION_INTERVAL_MS" envDefault:"20000"`

	// Cadence of pathway batch emission.
	PathwayIntervalMs int `env:"PATHWAY_INTERVAL_MS" envDefault:"1000"`

	// Capacity of the outbound pathway buffer.
	PathwayBufferSize int `env:"PATHWAY_BUFFER_SIZE" envDefault:"1024"`
}

// loadConfig loads the service configuration from environment variables.
// Missing required configuration is a startup mistake, not a runtime
// condition, so validation failures abort startup.
func loadConfig() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse worldlife config")
	}
	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.RedisAddress == "" {
		return eris.New("redis address cannot be empty")
	}
	if cfg.Namespace == "" {
		return eris.New("namespace cannot be empty")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return eris.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	for name, v := range map[string]int{
		"SIMULATION_INTERVAL_MS":          cfg.SimulationIntervalMs,
		"CHUNK_TTL_MS":                    cfg.ChunkTTLMs,
		"CHUNK_TTL_CLEANUP_INTERVAL_MS":   cfg.ChunkTTLCleanupIntervalMs,
		"OWNERSHIP_HEARTBEAT_INTERVAL_MS": cfg.OwnershipHeartbeatIntervalMs,
		"OWNERSHIP_STALE_THRESHOLD_MS":    cfg.OwnershipStaleThresholdMs,
		"ORPHAN_DETECTION_INTERVAL_MS":    cfg.OrphanDetectionIntervalMs,
		"PATHWAY_INTERVAL_MS":             cfg.PathwayIntervalMs,
		"PATHWAY_BUFFER_SIZE":             cfg.PathwayBufferSize,
	} {
		if v <= 0 {
			return eris.Errorf("%s must be positive", name)
		}
	}
	if cfg.OwnershipStaleThresholdMs <= cfg.OwnershipHeartbeatIntervalMs {
		return eris.New("ownership stale threshold must exceed the heartbeat interval")
	}
	if cfg.ChunkTTLMs <= cfg.ChunkTTLCleanupIntervalMs {
		return eris.New("chunk ttl must exceed the cleanup interval")
	}
	return nil
}

func (cfg *Config) simulationInterval() time.Duration {
	return time.Duration(cfg.SimulationIntervalMs) * time.Millisecond
}

func (cfg *Config) chunkTTL() time.Duration {
	return time.Duration(cfg.ChunkTTLMs) * time.Millisecond
}

func (cfg *Config) chunkTTLCleanupInterval() time.Duration {
	return time.Duration(cfg.ChunkTTLCleanupIntervalMs) * time.Millisecond
}

func (cfg *Config) ownershipHeartbeatInterval() time.Duration {
	return time.Duration(cfg.OwnershipHeartbeatIntervalMs) * time.Millisecond
}

func (cfg *Config) ownershipStaleThreshold() time.Duration {
	return time.Duration(cfg.OwnershipStaleThresholdMs) * time.Millisecond
}

func (cfg *Config) orphanDetectionInterval() time.Duration {
	return time.Duration(cfg.OrphanDetectionIntervalMs) * time.Millisecond
}

func (cfg *Config) pathwayInterval() time.Duration {
	return time.Duration(cfg.PathwayIntervalMs) * time.Millisecond
}
