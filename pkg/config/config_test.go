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

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	// Check server defaults
	if cfg.Server.Addr != ":8600" {
		t.Errorf("expected addr :8600, got %s", cfg.Server.Addr)
	}
	if cfg.Server.RateLimitRPS != 25 {
		t.Errorf("expected rate limit 25, got %f", cfg.Server.RateLimitRPS)
	}

	// Check recognition defaults
	if cfg.Recognition.MatchThreshold != 0.4 {
		t.Errorf("expected match threshold 0.4, got %f", cfg.Recognition.MatchThreshold)
	}
	if cfg.Recognition.MinMargin != 0.05 {
		t.Errorf("expected min margin 0.05, got %f", cfg.Recognition.MinMargin)
	}

	// Check liveness defaults
	if cfg.Liveness.ChallengeWindow() != 5*time.Second {
		t.Errorf("expected challenge window 5s, got %v", cfg.Liveness.ChallengeWindow())
	}
	if cfg.Liveness.MaxRetries != 2 {
		t.Errorf("expected max retries 2, got %d", cfg.Liveness.MaxRetries)
	}
	if cfg.Liveness.EyeClosedThreshold != 0.20 {
		t.Errorf("expected eye closed threshold 0.20, got %f", cfg.Liveness.EyeClosedThreshold)
	}
	if cfg.Liveness.EyeOpenThreshold != 0.25 {
		t.Errorf("expected eye open threshold 0.25, got %f", cfg.Liveness.EyeOpenThreshold)
	}
	if cfg.Liveness.TurnThreshold != 0.29 {
		t.Errorf("expected turn threshold 0.29, got %f", cfg.Liveness.TurnThreshold)
	}

	// Check emotion and session defaults
	if cfg.Emotion.SampleInterval() != 500*time.Millisecond {
		t.Errorf("expected sample interval 500ms, got %v", cfg.Emotion.SampleInterval())
	}
	if cfg.Session.IdleTTL() != 5*time.Minute {
		t.Errorf("expected idle TTL 5m, got %v", cfg.Session.IdleTTL())
	}
	if cfg.Auth.TokenTTL() != 15*time.Minute {
		t.Errorf("expected token TTL 15m, got %v", cfg.Auth.TokenTTL())
	}

	// Check storage defaults
	if !cfg.Storage.EncryptionEnabled {
		t.Error("expected encryption to be enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "facegate.yaml")

	configContent := `
server:
  addr: ":9000"
  rate_limit_rps: 10
liveness:
  challenge_window_seconds: 8
  max_retries: 3
  smile_threshold: 0.4
auth:
  token_issuer: "facegate-test"
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("expected addr :9000, got %s", cfg.Server.Addr)
	}
	if cfg.Liveness.ChallengeWindowSeconds != 8 {
		t.Errorf("expected challenge window 8s, got %d", cfg.Liveness.ChallengeWindowSeconds)
	}
	if cfg.Liveness.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", cfg.Liveness.MaxRetries)
	}
	if cfg.Liveness.SmileThreshold != 0.4 {
		t.Errorf("expected smile threshold 0.4, got %f", cfg.Liveness.SmileThreshold)
	}
	if cfg.Auth.TokenIssuer != "facegate-test" {
		t.Errorf("expected issuer facegate-test, got %s", cfg.Auth.TokenIssuer)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}

	// Unspecified keys keep their defaults.
	if cfg.Recognition.MatchThreshold != 0.4 {
		t.Errorf("expected default match threshold 0.4, got %f", cfg.Recognition.MatchThreshold)
	}
	if cfg.Liveness.EyeOpenThreshold != 0.25 {
		t.Errorf("expected default eye open threshold 0.25, got %f", cfg.Liveness.EyeOpenThreshold)
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/facegate.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
	if cfg == nil {
		t.Error("expected default config even on error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte("server: [not: valid"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "empty addr",
			mutate:  func(c *Config) { c.Server.Addr = "" },
			wantErr: "addr",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.Server.RateLimitRPS = 0 },
			wantErr: "rate_limit_rps",
		},
		{
			name:    "match threshold too high",
			mutate:  func(c *Config) { c.Recognition.MatchThreshold = 1.5 },
			wantErr: "match_threshold",
		},
		{
			name:    "negative margin",
			mutate:  func(c *Config) { c.Recognition.MinMargin = -0.1 },
			wantErr: "min_margin",
		},
		{
			name:    "zero challenge window",
			mutate:  func(c *Config) { c.Liveness.ChallengeWindowSeconds = 0 },
			wantErr: "challenge_window_seconds",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Liveness.MaxRetries = -1 },
			wantErr: "retry limits",
		},
		{
			name:    "static frames exceed history",
			mutate:  func(c *Config) { c.Liveness.StaticMinFrames = 100 },
			wantErr: "static_min_frames",
		},
		{
			name: "eye thresholds inverted",
			mutate: func(c *Config) {
				c.Liveness.EyeClosedThreshold = 0.3
				c.Liveness.EyeOpenThreshold = 0.2
			},
			wantErr: "eye_open_threshold",
		},
		{
			name:    "turn return exceeds turn",
			mutate:  func(c *Config) { c.Liveness.TurnReturnThreshold = 0.5 },
			wantErr: "turn_return_threshold",
		},
		{
			name:    "zero sample interval",
			mutate:  func(c *Config) { c.Emotion.SampleIntervalMs = 0 },
			wantErr: "sample_interval_ms",
		},
		{
			name:    "zero idle TTL",
			mutate:  func(c *Config) { c.Session.IdleTTLSeconds = 0 },
			wantErr: "idle_ttl_seconds",
		},
		{
			name:    "empty issuer",
			mutate:  func(c *Config) { c.Auth.TokenIssuer = "" },
			wantErr: "token_issuer",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("expected error containing %q, got nil", tt.wantErr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FACEGATE_ADDR", ":7777")
	t.Setenv("FACEGATE_TOKEN_SECRET", "env-secret")
	t.Setenv("FACEGATE_DATA_DIR", "/var/lib/facegate")
	t.Setenv("FACEGATE_MODEL_PATH", "/opt/facegate/models")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Server.Addr != ":7777" {
		t.Errorf("expected addr :7777, got %s", cfg.Server.Addr)
	}
	if cfg.Auth.TokenSecret != "env-secret" {
		t.Errorf("expected token secret from env, got %s", cfg.Auth.TokenSecret)
	}
	if cfg.Storage.DataDir != "/var/lib/facegate" {
		t.Errorf("expected data dir /var/lib/facegate, got %s", cfg.Storage.DataDir)
	}
	if cfg.Recognition.ModelPath != "/opt/facegate/models" {
		t.Errorf("expected model path /opt/facegate/models, got %s", cfg.Recognition.ModelPath)
	}
}

func TestApplyEnvEmptyKeepsConfig(t *testing.T) {
	t.Setenv("FACEGATE_ADDR", "")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Server.Addr != ":8600" {
		t.Errorf("expected addr :8600 preserved, got %s", cfg.Server.Addr)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(homeDir, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		result := ExpandPath(tt.input)
		if result != tt.expected {
			t.Errorf("ExpandPath(%s): expected %s, got %s", tt.input, tt.expected, result)
		}
	}
}

func TestExpandPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "~/facegate-data"
	cfg.Recognition.ModelPath = "~/facegate-models"

	cfg.ExpandPaths()

	if strings.HasPrefix(cfg.Storage.DataDir, "~") {
		t.Errorf("data dir not expanded: %s", cfg.Storage.DataDir)
	}
	if strings.HasPrefix(cfg.Recognition.ModelPath, "~") {
		t.Errorf("model path not expanded: %s", cfg.Recognition.ModelPath)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Recognition.ModelPath = filepath.Join(tmpDir, "models")
	cfg.Logging.File = filepath.Join(tmpDir, "logs", "facegate.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("failed to ensure directories: %v", err)
	}

	for _, dir := range []string{
		cfg.Storage.DataDir,
		filepath.Join(cfg.Storage.DataDir, "users"),
		cfg.Recognition.ModelPath,
		filepath.Join(tmpDir, "logs"),
	} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("expected directory %s to exist: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("expected %s to be a directory", dir)
		}
	}
}
