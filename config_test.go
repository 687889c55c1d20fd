package worldlife

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	assert.NilError(t, err)

	assert.Equal(t, "localhost:6379", cfg.RedisAddress)
	assert.Equal(t, "world", cfg.Namespace)
	assert.Equal(t, "4050", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.simulationInterval())
	assert.Equal(t, 5*time.Minute, cfg.chunkTTL())
	assert.Equal(t, 30*time.Second, cfg.chunkTTLCleanupInterval())
	assert.Equal(t, 5*time.Second, cfg.ownershipHeartbeatInterval())
	assert.Equal(t, 15*time.Second, cfg.ownershipStaleThreshold())
	assert.Equal(t, 20*time.Second, cfg.orphanDetectionInterval())
	assert.Equal(t, time.Second, cfg.pathwayInterval())
	assert.Equal(t, 1024, cfg.PathwayBufferSize)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("WORLDLIFE_REDIS_ADDRESS", "redis.internal:6380")
	t.Setenv("WORLDLIFE_NAMESPACE", "overworld")
	t.Setenv("SIMULATION_INTERVAL_MS", "100")
	t.Setenv("PATHWAY_BUFFER_SIZE", "256")

	cfg, err := loadConfig()
	assert.NilError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddress)
	assert.Equal(t, "overworld", cfg.Namespace)
	assert.Equal(t, 100*time.Millisecond, cfg.simulationInterval())
	assert.Equal(t, 256, cfg.PathwayBufferSize)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown log level", key: "WORLDLIFE_LOG_LEVEL", value: "loud"},
		{name: "zero tick interval", key: "SIMULATION_INTERVAL_MS", value: "0"},
		{name: "negative buffer size", key: "PATHWAY_BUFFER_SIZE", value: "-1"},
		{name: "stale threshold below heartbeat", key: "OWNERSHIP_STALE_THRESHOLD_MS", value: "3000"},
		{name: "chunk ttl below cleanup interval", key: "CHUNK_TTL_MS", value: "10000"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := loadConfig()
			assert.Check(t, err != nil)
		})
	}
}

func TestValidateRejectsEmptyRequiredFields(t *testing.T) {
	cfg, err := loadConfig()
	assert.NilError(t, err)

	noAddress := cfg
	noAddress.RedisAddress = ""
	assert.Check(t, noAddress.validate() != nil)

	noNamespace := cfg
	noNamespace.Namespace = ""
	assert.Check(t, noNamespace.validate() != nil)
}
