package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Load_DefaultValues(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "unknown", cfg.NodeGPU)
	assert.Equal(t, ":9090", cfg.AdminAddr)
	assert.Equal(t, "localhost:5672", cfg.RabbitMQHost)
	assert.Equal(t, "image_generation", cfg.RabbitMQQueue)
	assert.Equal(t, 10, cfg.RabbitMQQueueSize)
	assert.Equal(t, "guest", cfg.RabbitMQDefaultUser)
	assert.Equal(t, "guest", cfg.RabbitMQDefaultPass)
	assert.Equal(t, "/", cfg.RabbitMQDefaultVHost)
	assert.Equal(t, "localhost", cfg.SupabasePostgresHost)
	assert.Equal(t, 5432, cfg.SupabasePostgresPort)
	assert.Equal(t, 24*time.Hour, cfg.JobDiscardThreshold)
	assert.Equal(t, "info", cfg.LoggingLevel)
	assert.Equal(t, "./lora_cache", cfg.PluginCacheDir)
	assert.Equal(t, "", cfg.OTLPEndpoint)
	assert.Equal(t, "gpu-fleet", cfg.OTELServiceName)
}

func TestConfig_Load_CustomValues(t *testing.T) {
	t.Setenv("MODE", "consumer")
	t.Setenv("NODE_ID", "gpu-node-7")
	t.Setenv("NODE_GPU", "a100")
	t.Setenv("ADMIN_ADDR", ":9999")
	t.Setenv("RABBITMQ_HOST", "rabbit.internal:5672")
	t.Setenv("RABBITMQ_QUEUE", "custom-queue")
	t.Setenv("RABBITMQ_QUEUE_SIZE", "25")
	t.Setenv("RABBITMQ_DEFAULT_USER", "svc")
	t.Setenv("RABBITMQ_DEFAULT_PASS", "svc-pass")
	t.Setenv("RABBITMQ_DEFAULT_VHOST", "/fleet")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_KEY", "service-role-key")
	t.Setenv("OPENAI_KEY", "sk-test")
	t.Setenv("JOB_DISCARD_THRESHOLD", "30m")
	t.Setenv("LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RoleConsumer, cfg.Mode)
	assert.Equal(t, "gpu-node-7", cfg.NodeID)
	assert.Equal(t, "a100", cfg.NodeGPU)
	assert.Equal(t, ":9999", cfg.AdminAddr)
	assert.Equal(t, "rabbit.internal:5672", cfg.RabbitMQHost)
	assert.Equal(t, "custom-queue", cfg.RabbitMQQueue)
	assert.Equal(t, 25, cfg.RabbitMQQueueSize)
	assert.Equal(t, "svc", cfg.RabbitMQDefaultUser)
	assert.Equal(t, "svc-pass", cfg.RabbitMQDefaultPass)
	assert.Equal(t, "/fleet", cfg.RabbitMQDefaultVHost)
	assert.Equal(t, "https://proj.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, "service-role-key", cfg.SupabaseKey)
	assert.Equal(t, "sk-test", cfg.OpenAIKey)
	assert.Equal(t, 30*time.Minute, cfg.JobDiscardThreshold)
	assert.Equal(t, "debug", cfg.LoggingLevel)
}

func TestConfig_IsDev(t *testing.T) {
	testCases := []struct {
		appEnv   string
		expected bool
	}{
		{"dev", true},
		{"DEV", true},
		{"prod", false},
		{"", true},
	}

	for _, tc := range testCases {
		t.Run(tc.appEnv, func(t *testing.T) {
			setBaseEnv(t)
			if tc.appEnv != "" {
				t.Setenv("APP_ENV", tc.appEnv)
			}

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tc.expected, cfg.IsDev())
		})
	}
}

func TestConfig_IsProd(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "prod")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
}

func TestConfig_Load_ErrorCases(t *testing.T) {
	testCases := []struct {
		name   string
		envVar string
		value  string
	}{
		{"invalid duration - JOB_DISCARD_THRESHOLD", "JOB_DISCARD_THRESHOLD", "invalid"},
		{"invalid integer - RABBITMQ_QUEUE_SIZE", "RABBITMQ_QUEUE_SIZE", "invalid"},
		{"invalid integer - SUPABASE_POSTGRES_PORT", "SUPABASE_POSTGRES_PORT", "invalid"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tc.envVar, tc.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
