// Package config provides configuration management for FaceGate.
// It loads configuration from YAML files with sensible defaults and
// supports environment overrides for deployment-level settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all FaceGate configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Emotion     EmotionConfig     `yaml:"emotion"`
	Session     SessionConfig     `yaml:"session"`
	Auth        AuthConfig        `yaml:"auth"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	CORSOrigins  []string `yaml:"cors_origins"`
	RateLimitRPS float64  `yaml:"rate_limit_rps"`
}

// RecognitionConfig holds face matching settings.
type RecognitionConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"`
	MinMargin      float64 `yaml:"min_margin"`
	ModelPath      string  `yaml:"model_path"`
}

// LivenessConfig holds the challenge-response detection settings.
// Thresholds are tuned for the dlib 68-point landmark scheme.
type LivenessConfig struct {
	ChallengeWindowSeconds int     `yaml:"challenge_window_seconds"`
	MaxRetries             int     `yaml:"max_retries"`
	MaxSpoofRetries        int     `yaml:"max_spoof_retries"`
	HistorySize            int     `yaml:"history_size"`
	StaticMinFrames        int     `yaml:"static_min_frames"`
	StaticVarianceEpsilon  float64 `yaml:"static_variance_epsilon"`
	EyeClosedThreshold     float64 `yaml:"eye_closed_threshold"`
	EyeOpenThreshold       float64 `yaml:"eye_open_threshold"`
	MinClosedFrames        int     `yaml:"min_closed_frames"`
	RecoveryFrames         int     `yaml:"recovery_frames"`
	SmileThreshold         float64 `yaml:"smile_threshold"`
	SmileHoldFrames        int     `yaml:"smile_hold_frames"`
	TurnThreshold          float64 `yaml:"turn_threshold"`
	TurnReturnThreshold    float64 `yaml:"turn_return_threshold"`
	MinTurnFrames          int     `yaml:"min_turn_frames"`
}

// ChallengeWindow returns the per-challenge deadline as a duration.
func (l LivenessConfig) ChallengeWindow() time.Duration {
	return time.Duration(l.ChallengeWindowSeconds) * time.Second
}

// EmotionConfig holds emotion streaming settings.
type EmotionConfig struct {
	SampleIntervalMs int `yaml:"sample_interval_ms"`
	Buffer           int `yaml:"buffer"`
}

// SampleInterval returns the sampling interval as a duration.
func (e EmotionConfig) SampleInterval() time.Duration {
	return time.Duration(e.SampleIntervalMs) * time.Millisecond
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	IdleTTLSeconds         int `yaml:"idle_ttl_seconds"`
	JanitorIntervalSeconds int `yaml:"janitor_interval_seconds"`
}

// IdleTTL returns how long an untouched session survives.
func (s SessionConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLSeconds) * time.Second
}

// JanitorInterval returns the sweep interval for expired sessions.
func (s SessionConfig) JanitorInterval() time.Duration {
	return time.Duration(s.JanitorIntervalSeconds) * time.Second
}

// AuthConfig holds access-token settings.
type AuthConfig struct {
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	TokenIssuer     string `yaml:"token_issuer"`
	TokenSecret     string `yaml:"token_secret"`
}

// TokenTTL returns the access-token lifetime as a duration.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// StorageConfig holds template store settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Addr:         ":8600",
			CORSOrigins:  []string{"http://localhost:5173", "http://localhost:8600"},
			RateLimitRPS: 25,
		},
		Recognition: RecognitionConfig{
			MatchThreshold: 0.4,
			MinMargin:      0.05,
			ModelPath:      filepath.Join(homeDir, ".local/share/facegate/models"),
		},
		Liveness: LivenessConfig{
			ChallengeWindowSeconds: 5,
			MaxRetries:             2,
			MaxSpoofRetries:        1,
			HistorySize:            45,
			StaticMinFrames:        8,
			StaticVarianceEpsilon:  1e-6,
			EyeClosedThreshold:     0.20,
			EyeOpenThreshold:       0.25,
			MinClosedFrames:        2,
			RecoveryFrames:         12,
			SmileThreshold:         0.35,
			SmileHoldFrames:        3,
			TurnThreshold:          0.29,
			TurnReturnThreshold:    0.15,
			MinTurnFrames:          2,
		},
		Emotion: EmotionConfig{
			SampleIntervalMs: 500,
			Buffer:           16,
		},
		Session: SessionConfig{
			IdleTTLSeconds:         300,
			JanitorIntervalSeconds: 30,
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 15,
			TokenIssuer:     "facegate",
			TokenSecret:     "",
		},
		Storage: StorageConfig{
			DataDir:           filepath.Join(homeDir, ".local/share/facegate"),
			EncryptionEnabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, ".local/share/facegate/facegate.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	// Try system config first
	if _, err := os.Stat("/etc/facegate/facegate.yaml"); err == nil {
		return Load("/etc/facegate/facegate.yaml")
	}

	// Try user config
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facegate/facegate.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	// Return defaults
	return DefaultConfig(), nil
}

// ApplyEnv overrides deployment-level settings from the environment.
// Call after Load so a .env file (loaded by the caller) wins over YAML.
func (c *Config) ApplyEnv() {
	if addr := os.Getenv("FACEGATE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if secret := os.Getenv("FACEGATE_TOKEN_SECRET"); secret != "" {
		c.Auth.TokenSecret = secret
	}
	if dataDir := os.Getenv("FACEGATE_DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}
	if modelPath := os.Getenv("FACEGATE_MODEL_PATH"); modelPath != "" {
		c.Recognition.ModelPath = modelPath
	}
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be positive, got %f", c.Server.RateLimitRPS)
	}

	if c.Recognition.MatchThreshold <= 0 || c.Recognition.MatchThreshold > 1 {
		return fmt.Errorf("match_threshold must be in (0, 1], got %f", c.Recognition.MatchThreshold)
	}
	if c.Recognition.MinMargin < 0 {
		return fmt.Errorf("min_margin must not be negative, got %f", c.Recognition.MinMargin)
	}

	l := c.Liveness
	if l.ChallengeWindowSeconds <= 0 {
		return fmt.Errorf("challenge_window_seconds must be positive, got %d", l.ChallengeWindowSeconds)
	}
	if l.MaxRetries < 0 || l.MaxSpoofRetries < 0 {
		return fmt.Errorf("retry limits must not be negative")
	}
	if l.HistorySize < 2 {
		return fmt.Errorf("history_size must be at least 2, got %d", l.HistorySize)
	}
	if l.StaticMinFrames < 2 || l.StaticMinFrames > l.HistorySize {
		return fmt.Errorf("static_min_frames must be in [2, history_size], got %d", l.StaticMinFrames)
	}
	if l.EyeClosedThreshold <= 0 || l.EyeClosedThreshold >= 1 {
		return fmt.Errorf("eye_closed_threshold must be in (0, 1), got %f", l.EyeClosedThreshold)
	}
	if l.EyeOpenThreshold <= l.EyeClosedThreshold {
		return fmt.Errorf("eye_open_threshold (%f) must exceed eye_closed_threshold (%f)",
			l.EyeOpenThreshold, l.EyeClosedThreshold)
	}
	if l.MinClosedFrames < 1 || l.MinTurnFrames < 1 || l.SmileHoldFrames < 1 {
		return fmt.Errorf("minimum frame counts must be at least 1")
	}
	if l.RecoveryFrames < 1 {
		return fmt.Errorf("recovery_frames must be at least 1, got %d", l.RecoveryFrames)
	}
	if l.SmileThreshold <= 0 || l.SmileThreshold >= 1 {
		return fmt.Errorf("smile_threshold must be in (0, 1), got %f", l.SmileThreshold)
	}
	if l.TurnThreshold <= 0 || l.TurnThreshold >= 1 {
		return fmt.Errorf("turn_threshold must be in (0, 1), got %f", l.TurnThreshold)
	}
	if l.TurnReturnThreshold < 0 || l.TurnReturnThreshold >= l.TurnThreshold {
		return fmt.Errorf("turn_return_threshold must be in [0, turn_threshold), got %f", l.TurnReturnThreshold)
	}

	if c.Emotion.SampleIntervalMs <= 0 {
		return fmt.Errorf("sample_interval_ms must be positive, got %d", c.Emotion.SampleIntervalMs)
	}
	if c.Emotion.Buffer < 1 {
		return fmt.Errorf("emotion buffer must be at least 1, got %d", c.Emotion.Buffer)
	}

	if c.Session.IdleTTLSeconds <= 0 {
		return fmt.Errorf("idle_ttl_seconds must be positive, got %d", c.Session.IdleTTLSeconds)
	}
	if c.Session.JanitorIntervalSeconds <= 0 {
		return fmt.Errorf("janitor_interval_seconds must be positive, got %d", c.Session.JanitorIntervalSeconds)
	}

	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("token_ttl_minutes must be positive, got %d", c.Auth.TokenTTLMinutes)
	}
	if c.Auth.TokenIssuer == "" {
		return fmt.Errorf("token_issuer must not be empty")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	usersDir := filepath.Join(c.Storage.DataDir, "users")
	if err := os.MkdirAll(usersDir, 0700); err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		logDir := filepath.Dir(c.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
