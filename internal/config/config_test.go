package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Registry.Capacity != 100 {
		t.Errorf("default registry capacity = %d, want 100", cfg.Registry.Capacity)
	}

	if cfg.Routing.CooldownPeriod != 60*time.Second {
		t.Errorf("default cooldown period = %v, want 60s", cfg.Routing.CooldownPeriod)
	}

	if cfg.Routing.DefaultStrategy != "balanced" {
		t.Errorf("default strategy = %s, want balanced", cfg.Routing.DefaultStrategy)
	}

	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: &Config{
				Registry: RegistryConfig{Capacity: 8},
				Models: []ModelSourceConfig{
					{ID: "gpt-4", URI: "mock://gpt-4"},
				},
			},
			wantErr: false,
		},
		{
			name: "invalid registry capacity",
			cfg: &Config{
				Registry: RegistryConfig{Capacity: 0},
			},
			wantErr: true,
		},
		{
			name: "model missing id",
			cfg: &Config{
				Registry: RegistryConfig{Capacity: 8},
				Models: []ModelSourceConfig{
					{ID: "", URI: "mock://gpt-4"},
				},
			},
			wantErr: true,
		},
		{
			name: "model missing uri",
			cfg: &Config{
				Registry: RegistryConfig{Capacity: 8},
				Models: []ModelSourceConfig{
					{ID: "gpt-4", URI: ""},
				},
			},
			wantErr: true,
		},
		{
			name: "negative retry count",
			cfg: &Config{
				Registry: RegistryConfig{Capacity: 8},
				Routing:  RoutingConfig{RetryCount: -1},
			},
			wantErr: true,
		},
		{
			name: "negative pipeline retries",
			cfg: &Config{
				Registry: RegistryConfig{Capacity: 8},
				Pipeline: PipelineConfig{Retries: -1},
			},
			wantErr: true,
		},
		{
			name: "negative pipeline max concurrent",
			cfg: &Config{
				Registry: RegistryConfig{Capacity: 8},
				Pipeline: PipelineConfig{MaxConcurrent: -1},
			},
			wantErr: true,
		},
		{
			name: "pipeline retry jitter out of range",
			cfg: &Config{
				Registry: RegistryConfig{Capacity: 8},
				Pipeline: PipelineConfig{RetryJitter: 1.5},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml", func(t *testing.T) {
		content := `
registry:
  capacity: 4
models:
  - id: test-model
    format: mock
    uri: mock://test-model
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}

		if cfg.Registry.Capacity != 4 {
			t.Errorf("registry.capacity = %d, want 4", cfg.Registry.Capacity)
		}

		if len(cfg.Models) != 1 {
			t.Fatalf("models count = %d, want 1", len(cfg.Models))
		}

		if cfg.Models[0].ID != "test-model" {
			t.Errorf("model id = %s, want test-model", cfg.Models[0].ID)
		}
	})

	t.Run("environment variable expansion", func(t *testing.T) {
		os.Setenv("TEST_MODEL_URI", "mock://secret-model")
		defer os.Unsetenv("TEST_MODEL_URI")

		content := `
models:
  - id: openai
    uri: ${TEST_MODEL_URI}
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}

		if cfg.Models[0].URI != "mock://secret-model" {
			t.Errorf("uri = %s, want mock://secret-model", cfg.Models[0].URI)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadFromFile("/nonexistent/path/config.yaml")
		if err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		content := `
registry:
  capacity: [invalid
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		_, err := LoadFromFile(path)
		if err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestConfigValidation_DistributedMode(t *testing.T) {
	baseConfig := func() *Config {
		return &Config{
			Registry: RegistryConfig{Capacity: 8},
			Models: []ModelSourceConfig{
				{ID: "gpt-4", URI: "mock://gpt-4"},
			},
			Deployment: DeploymentConfig{Mode: "distributed"},
			Routing: RoutingConfig{
				Distributed: true,
			},
			Cache: CacheConfig{
				Redis: RedisCacheConfig{Addr: "localhost:6379"},
			},
		}
	}

	t.Run("requires routing.distributed when distributed", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Routing.Distributed = false

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), "routing.distributed") {
			t.Fatalf("expected routing.distributed error, got %v", err)
		}
	})

	t.Run("requires redis for distributed routing", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Cache.Redis.Addr = ""

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), "cache.redis") {
			t.Fatalf("expected cache.redis error, got %v", err)
		}
	})

	t.Run("requires distributed rate limiting when enabled", func(t *testing.T) {
		cfg := baseConfig()
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.Distributed = false

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), "rate_limit.distributed") {
			t.Fatalf("expected rate_limit.distributed error, got %v", err)
		}
	})

	t.Run("distributed rate limiting requires redis", func(t *testing.T) {
		cfg := baseConfig()
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.Distributed = true
		cfg.Cache.Redis.Addr = ""

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), "cache.redis") {
			t.Fatalf("expected cache.redis error, got %v", err)
		}
	})

	t.Run("development mode skips distributed checks", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Deployment.Mode = "development"
		cfg.Routing.Distributed = false
		cfg.Cache.Redis.Addr = ""
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.Distributed = false

		if err := cfg.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}
