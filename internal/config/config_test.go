package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

func workerConfig() Config {
	return Config{
		AppEnv:                  "test",
		StorageConnectionString: "UseDevelopmentStorage=true",
		DocIntelEndpoint:        "https://di.example.com",
		DocIntelAPIKey:          "k",
		DocIntelAPIVersion:      "2024-02-29-preview",
		OpenAIEndpoint:          "https://aoai.example.com",
		OpenAIAPIKey:            "k",
		OpenAIAPIVersion:        "2024-02-01",
		OpenAIDeployment:        "gpt-4o",
		APIBaseURL:              "https://api.example.com",
		APIUsername:             "u",
		APIPassword:             "p",
		APIRole:                 "svc",
		APIUserApplication:      "screening",
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "candidates", cfg.CandidatesContainer)
	assert.Equal(t, "error/", cfg.ErrorPrefix)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
}

func TestValidateWorker_Complete(t *testing.T) {
	t.Parallel()
	require.NoError(t, workerConfig().ValidateWorker())
}

func TestValidateWorker_MissingCollaboratorOption(t *testing.T) {
	t.Parallel()
	cfg := workerConfig()
	cfg.DocIntelAPIKey = ""
	err := cfg.ValidateWorker()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "DOCINTEL_API_KEY")
}

func TestValidateWorker_IndexingOptionsRequiredTogether(t *testing.T) {
	t.Parallel()
	cfg := workerConfig()
	cfg.EmbeddingDeployment = "text-embedding-3-small"
	err := cfg.ValidateWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEARCH_ENDPOINT")

	cfg.SearchEndpoint = "https://search.example.com"
	cfg.SearchAPIKey = "k"
	cfg.SearchIndexName = "cv-chunks"
	require.NoError(t, cfg.ValidateWorker())
	assert.True(t, cfg.IndexingEnabled())
}

func TestValidateServer(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	require.ErrorIs(t, cfg.ValidateServer(), domain.ErrConfiguration)
	cfg.StorageConnectionString = "UseDevelopmentStorage=true"
	require.NoError(t, cfg.ValidateServer())
}

func TestRetryPolicyFromConfig(t *testing.T) {
	t.Parallel()
	cfg := workerConfig()
	cfg.RetryMaxAttempts = 5
	cfg.RetryInitialDelay = time.Second
	p := cfg.RetryPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
}
