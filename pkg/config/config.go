// Package config loads and validates the engine's runtime configuration:
// the batch orchestrator's concurrency/deadline knobs, the model client's
// generation parameters, the warehouse/cache locations, and the auth
// broker's endpoints. Configuration is YAML with environment expansion,
// merged over built-in defaults.
package config

import "time"

// BatchConfig controls the batch orchestrator: worker pool size, the two
// deadlines, and the batch size cap.
type BatchConfig struct {
	// WorkerCount is the bounded worker-pool size within a single batch.
	WorkerCount int `yaml:"worker_count"`

	// BatchDeadline is the hard whole-batch deadline. Tasks not completed
	// by this deadline are cancelled and filled with TIMEOUT.
	BatchDeadline time.Duration `yaml:"batch_deadline"`

	// PerCAMDeadline is advisory: attached to each task's context but not
	// independently enforced by the worker pool.
	PerCAMDeadline time.Duration `yaml:"per_cam_deadline"`

	// MaxCAMsPerBatch is the hard cap on cams per request.
	MaxCAMsPerBatch int `yaml:"max_cams_per_batch"`

	// RetryBatchSize is the sub-batch size used for the global retry pass
	// of failed CAMs.
	RetryBatchSize int `yaml:"retry_batch_size"`
}

// DefaultBatchConfig returns the built-in batch defaults.
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		WorkerCount:     10,
		BatchDeadline:   120 * time.Second,
		PerCAMDeadline:  30 * time.Second,
		MaxCAMsPerBatch: 500,
		RetryBatchSize:  50,
	}
}

// ModelConfig configures the generative-model client.
type ModelConfig struct {
	Endpoint    string  `yaml:"endpoint"`   // gRPC address of the model sidecar
	ModelName   string  `yaml:"model_name"` // model name passed to every Generate call
	Location    string  `yaml:"location"`   // cloud region/location of the model deployment
	Datastore   string  `yaml:"datastore"`  // retrieval datastore id for grounding
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	Benchmark   bool    `yaml:"benchmark"` // true forces temperature=0, top_p=1

	// SafetyCategories maps a safety category name to its threshold, passed
	// through verbatim to the model request.
	SafetyCategories map[string]string `yaml:"safety_categories"`

	// RetryBase is the exponential-backoff base for 429/RESOURCE_EXHAUSTED
	// retries: delay = RetryBase * 2^attempt.
	RetryBase time.Duration `yaml:"retry_base"`
	// RetryAttempts is the number of retries after the first failed call.
	RetryAttempts int `yaml:"retry_attempts"`
}

// DefaultModelConfig returns the built-in model defaults.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Endpoint:      "localhost:50061",
		ModelName:     "tyre-recommender-v1",
		Temperature:   0.2,
		TopP:          0.9,
		RetryBase:     2 * time.Second,
		RetryAttempts: 3,
	}
}

// CandidateStoreConfig configures the candidate store.
type CandidateStoreConfig struct {
	CacheDir string `yaml:"cache_dir"` // on-disk cache root; empty disables caching
	CSVPath  string `yaml:"csv_path"`  // CSV mirror fallback path; empty disables it
}

// UsageConfig configures cost accounting.
type UsageConfig struct {
	PriceInputPerToken  float64 `yaml:"price_input_per_token"`
	PriceOutputPerToken float64 `yaml:"price_output_per_token"`
}

// DefaultUsageConfig returns the built-in cost-accounting defaults.
func DefaultUsageConfig() *UsageConfig {
	return &UsageConfig{
		PriceInputPerToken:  0.00000125,
		PriceOutputPerToken: 0.00000500,
	}
}

// ArtifactsConfig configures the per-run artifact output (CSV + manifest).
type ArtifactsConfig struct {
	// Dir is the artifact output directory; empty disables artifact writing.
	Dir string `yaml:"dir"`
}

// AuthConfig configures the auth broker.
type AuthConfig struct {
	// Local, when true, makes both credentials no-ops.
	Local bool `yaml:"local"`

	// ModelAudience is the OIDC audience: the model endpoint URL.
	ModelAudience string `yaml:"model_audience"`
	// MetadataTokenURL is the platform metadata/ADC endpoint serving the
	// identity token.
	MetadataTokenURL string `yaml:"metadata_token_url"`

	// LoginURL is the service's own POST /login endpoint.
	LoginURL string `yaml:"login_url"`
	// ServicePasswordEnv names the env var holding the login password.
	ServicePasswordEnv string `yaml:"service_password_env"`
}

// ServerConfig configures the inbound HTTP API (gin).
type ServerConfig struct {
	Address string `yaml:"address"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{Address: ":8080"}
}

// Config is the fully resolved, ready-to-use engine configuration.
type Config struct {
	Batch      *BatchConfig          `yaml:"batch"`
	Model      *ModelConfig          `yaml:"model"`
	Candidates *CandidateStoreConfig `yaml:"candidates"`
	Usage      *UsageConfig          `yaml:"usage"`
	Artifacts  *ArtifactsConfig      `yaml:"artifacts"`
	Auth       *AuthConfig           `yaml:"auth"`
	Server     *ServerConfig         `yaml:"server"`
	Database   *DatabaseYAMLConfig   `yaml:"database"`
}

// DatabaseYAMLConfig mirrors database.Config's fields for YAML loading;
// kept distinct from database.Config so pkg/config does not import
// pkg/database (the dependency runs the other way: cmd/tyrerec wires both).
type DatabaseYAMLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}
