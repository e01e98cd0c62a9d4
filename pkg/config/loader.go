package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// YAMLConfig mirrors Config's shape for unmarshalling; any section omitted
// from the file is left nil and filled from defaults by Initialize.
type YAMLConfig struct {
	Batch      *BatchConfig          `yaml:"batch"`
	Model      *ModelConfig          `yaml:"model"`
	Candidates *CandidateStoreConfig `yaml:"candidates"`
	Usage      *UsageConfig          `yaml:"usage"`
	Artifacts  *ArtifactsConfig      `yaml:"artifacts"`
	Auth       *AuthConfig           `yaml:"auth"`
	Server     *ServerConfig         `yaml:"server"`
	Database   *DatabaseYAMLConfig   `yaml:"database"`
}

// Initialize loads tyrerec.yaml from configDir (if present), merges it over
// the built-in defaults, validates the result, and returns a ready-to-use
// Config. A missing file is not an error; the built-in defaults apply as
// for local/offline runs.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	user, err := loadYAMLConfig(configDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Batch:      DefaultBatchConfig(),
		Model:      DefaultModelConfig(),
		Candidates: &CandidateStoreConfig{},
		Usage:      DefaultUsageConfig(),
		Artifacts:  &ArtifactsConfig{},
		Auth:       &AuthConfig{Local: true},
		Server:     DefaultServerConfig(),
		Database:   &DatabaseYAMLConfig{Host: "localhost", Port: 5432, SSLMode: "disable"},
	}

	if user != nil {
		if err := mergeInto(cfg, user); err != nil {
			return nil, fmt.Errorf("merging user configuration: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"worker_count", cfg.Batch.WorkerCount,
		"batch_deadline", cfg.Batch.BatchDeadline,
		"model", cfg.Model.ModelName)
	return cfg, nil
}

// loadYAMLConfig reads tyrerec.yaml from configDir, expanding environment
// variables before parsing. A missing directory or file returns (nil, nil).
func loadYAMLConfig(configDir string) (*YAMLConfig, error) {
	if configDir == "" {
		return nil, nil
	}
	path := filepath.Join(configDir, "tyrerec.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &y, nil
}

// mergeInto merges each non-nil section of user over cfg's built-in
// defaults, field by field (mergo.WithOverride lets non-zero user fields
// win while unset fields keep the default).
func mergeInto(cfg *Config, user *YAMLConfig) error {
	merges := []struct {
		name string
		dst  any
		src  any
	}{
		{"batch", cfg.Batch, user.Batch},
		{"model", cfg.Model, user.Model},
		{"candidates", cfg.Candidates, user.Candidates},
		{"usage", cfg.Usage, user.Usage},
		{"artifacts", cfg.Artifacts, user.Artifacts},
		{"auth", cfg.Auth, user.Auth},
		{"server", cfg.Server, user.Server},
		{"database", cfg.Database, user.Database},
	}
	for _, m := range merges {
		if isNilPtr(m.src) {
			continue
		}
		if err := mergo.Merge(m.dst, m.src, mergo.WithOverride); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}
	return nil
}

// isNilPtr reports whether a boxed pointer value is nil. Needed because a
// typed-nil interface (e.g. (*BatchConfig)(nil) boxed into `any`) is not
// itself == nil.
func isNilPtr(v any) bool {
	switch p := v.(type) {
	case *BatchConfig:
		return p == nil
	case *ModelConfig:
		return p == nil
	case *CandidateStoreConfig:
		return p == nil
	case *UsageConfig:
		return p == nil
	case *ArtifactsConfig:
		return p == nil
	case *AuthConfig:
		return p == nil
	case *ServerConfig:
		return p == nil
	case *DatabaseYAMLConfig:
		return p == nil
	default:
		return v == nil
	}
}

// validate checks the resolved configuration's invariants.
func validate(cfg *Config) error {
	if cfg.Batch.WorkerCount < 1 {
		return NewValidationError("batch", "worker_count", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Batch.MaxCAMsPerBatch < 1 {
		return NewValidationError("batch", "max_cams_per_batch", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if cfg.Batch.BatchDeadline <= 0 {
		return NewValidationError("batch", "batch_deadline", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Model.RetryAttempts < 0 {
		return NewValidationError("model", "retry_attempts", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}
