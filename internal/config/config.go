// Package config defines configuration parsing and startup validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

// Config holds all application configuration parsed from environment
// variables. Every collaborator's required options are validated at startup;
// a missing option is a fatal configuration error, never deferred to first
// use.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Blob storage (intake, error area, partial results)
	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	CandidatesContainer     string `env:"CANDIDATES_CONTAINER" envDefault:"candidates"`
	PartialResultsContainer string `env:"PARTIAL_RESULTS_CONTAINER" envDefault:"resultados-post-openai"`
	ErrorPrefix             string `env:"ERROR_PREFIX" envDefault:"error/"`

	// Document Intelligence (OCR)
	DocIntelEndpoint   string `env:"DOCINTEL_ENDPOINT"`
	DocIntelAPIKey     string `env:"DOCINTEL_API_KEY"`
	DocIntelAPIVersion string `env:"DOCINTEL_API_VERSION" envDefault:"2024-02-29-preview"`
	DocIntelModel      string `env:"DOCINTEL_MODEL" envDefault:"prebuilt-read"`

	// Azure OpenAI (completion)
	OpenAIEndpoint   string `env:"OPENAI_ENDPOINT"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIAPIVersion string `env:"OPENAI_API_VERSION" envDefault:"2024-02-01"`
	OpenAIDeployment string `env:"OPENAI_DEPLOYMENT"`

	// Azure OpenAI (embeddings, optional alongside search indexing)
	EmbeddingDeployment string `env:"OPENAI_EMBEDDING_DEPLOYMENT"`
	EmbeddingAPIVersion string `env:"OPENAI_EMBEDDING_API_VERSION" envDefault:"2024-02-01"`

	// Search index (optional alongside embeddings)
	SearchEndpoint  string `env:"SEARCH_ENDPOINT"`
	SearchAPIKey    string `env:"SEARCH_API_KEY"`
	SearchIndexName string `env:"SEARCH_INDEX_NAME"`

	// System of record REST API
	APIBaseURL         string `env:"API_BASE_URL"`
	APIUsername        string `env:"API_USERNAME"`
	APIPassword        string `env:"API_PASSWORD"`
	APIRole            string `env:"API_ROLE"`
	APIUserApplication string `env:"API_USER_APPLICATION"`

	// Retry configuration applied at external call sites
	RetryMaxAttempts  int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"2s"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	RetryMultiplier   float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`

	// Intake watcher
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	MaxConcurrency int           `env:"MAX_CONCURRENCY" envDefault:"4"`

	// Upload server
	MaxUploadMB     int64 `env:"MAX_UPLOAD_MB" envDefault:"10"`
	RateLimitPerMin int   `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`

	// HTTP server timeouts
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IndexingEnabled reports whether the optional embedding/index extension is
// configured. Setting any of its options enables it and makes the rest
// required.
func (c Config) IndexingEnabled() bool {
	return c.EmbeddingDeployment != "" || c.SearchEndpoint != "" || c.SearchIndexName != ""
}

// RetryPolicy builds the retry policy shared by the stage adapters.
func (c Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts:  c.RetryMaxAttempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
	}
}

// ValidateWorker checks every collaborator the worker needs. Errors wrap
// domain.ErrConfiguration so callers can abort before any item work.
func (c Config) ValidateWorker() error {
	var missing []string
	require := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}

	require("STORAGE_CONNECTION_STRING", c.StorageConnectionString)
	require("DOCINTEL_ENDPOINT", c.DocIntelEndpoint)
	require("DOCINTEL_API_KEY", c.DocIntelAPIKey)
	require("DOCINTEL_API_VERSION", c.DocIntelAPIVersion)
	require("OPENAI_ENDPOINT", c.OpenAIEndpoint)
	require("OPENAI_API_KEY", c.OpenAIAPIKey)
	require("OPENAI_API_VERSION", c.OpenAIAPIVersion)
	require("OPENAI_DEPLOYMENT", c.OpenAIDeployment)
	require("API_BASE_URL", c.APIBaseURL)
	require("API_USERNAME", c.APIUsername)
	require("API_PASSWORD", c.APIPassword)
	require("API_ROLE", c.APIRole)
	require("API_USER_APPLICATION", c.APIUserApplication)

	if c.IndexingEnabled() {
		require("OPENAI_EMBEDDING_DEPLOYMENT", c.EmbeddingDeployment)
		require("SEARCH_ENDPOINT", c.SearchEndpoint)
		require("SEARCH_API_KEY", c.SearchAPIKey)
		require("SEARCH_INDEX_NAME", c.SearchIndexName)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateServer checks the options the upload server needs.
func (c Config) ValidateServer() error {
	if c.StorageConnectionString == "" {
		return fmt.Errorf("%w: missing STORAGE_CONNECTION_STRING", domain.ErrConfiguration)
	}
	return nil
}
