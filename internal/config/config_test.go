package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docverify?sslmode=disable")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.Equal(t, 300, cfg.RasterDPI)
	assert.Equal(t, []string{"ara", "eng"}, cfg.OCRLanguages)
	assert.Equal(t, 1.0, cfg.ExactThreshold)
	assert.Equal(t, 0.8, cfg.NearThreshold)
	assert.Equal(t, 0.6, cfg.PartialThreshold)
	assert.Equal(t, "docverify:jobs:provisioning", cfg.ProvisioningQueue)
}

func TestLoadConfigProvisioningQueue(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/docverify")
	t.Setenv("QUEUE_NAME", "verify")
	t.Setenv("PROVISIONING_QUEUE", "accounts:provision")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "accounts:provision", cfg.ProvisioningQueue)

	t.Setenv("PROVISIONING_QUEUE", "verify")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "PROVISIONING_QUEUE")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/docverify")
	t.Setenv("QUEUE_BACKEND", "ASYNQ")
	t.Setenv("RASTER_DPI", "200")
	t.Setenv("OCR_LANGUAGES", "eng")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, QueueBackendAsynq, cfg.QueueBackend)
	assert.Equal(t, 200, cfg.RasterDPI)
	assert.Equal(t, []string{"eng"}, cfg.OCRLanguages)
	assert.Equal(t, 4, cfg.WorkerConcurrency, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedisURL:          "redis://localhost:6379",
			DatabaseURL:       "postgres://localhost/db",
			QueueBackend:      QueueBackendRedis,
			WorkerConcurrency: 4,
			MaxFileSize:       1 << 20,
			ProcessingTimeout: 60000,
			RasterDPI:         300,
			OCRLanguages:      []string{"eng"},
			ExactThreshold:    1.0,
			NearThreshold:     0.8,
			PartialThreshold:  0.6,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "DATABASE_URL"},
		{name: "unknown backend", mutate: func(c *Config) { c.QueueBackend = "kafka" }, wantErr: "QUEUE_BACKEND"},
		{name: "concurrency too high", mutate: func(c *Config) { c.WorkerConcurrency = 101 }, wantErr: "WORKER_CONCURRENCY"},
		{name: "dpi too low", mutate: func(c *Config) { c.RasterDPI = 50 }, wantErr: "RASTER_DPI"},
		{name: "no languages", mutate: func(c *Config) { c.OCRLanguages = nil }, wantErr: "OCR_LANGUAGES"},
		{name: "threshold out of range", mutate: func(c *Config) { c.NearThreshold = 1.5 }, wantErr: "VERIFY_NEAR_THRESHOLD"},
		{name: "thresholds out of order", mutate: func(c *Config) { c.PartialThreshold = 0.9 }, wantErr: "partial <= near <= exact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
