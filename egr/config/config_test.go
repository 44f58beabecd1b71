package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/episode-graphrag/egr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "egr-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultAppName, cfg.App.Name)
	assert.Equal(suite.T(), "file:egr.db", cfg.Database.URL)
	assert.Equal(suite.T(), 3, cfg.Retrieval.MaxAttempts)
	assert.Equal(suite.T(), 10, cfg.Retrieval.LookupLimit)
	assert.Equal(suite.T(), 20, cfg.Retrieval.ExploratoryLimit)
	assert.Equal(suite.T(), 5, cfg.Retrieval.TopK)
	assert.Equal(suite.T(), 20*time.Second, cfg.Retrieval.AttemptTimeout)
	assert.Equal(suite.T(), 5*time.Minute, cfg.Retrieval.SchemaTTL)
	assert.Equal(suite.T(), 6, cfg.Session.HistoryWindow)
	assert.Equal(suite.T(), 500*time.Millisecond, cfg.Harness.RateLimitRefillRate)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
app:
  log_level: debug
database:
  url: "file:test.db"
retrieval:
  max_attempts: 4
  attempt_timeout: 5s
  loop_timeout: 30s
  top_k: 6
persona:
  subject: "frontend tooling"
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "debug", cfg.App.LogLevel)
	assert.Equal(suite.T(), "file:test.db", cfg.Database.URL)
	assert.Equal(suite.T(), 4, cfg.Retrieval.MaxAttempts)
	assert.Equal(suite.T(), 5*time.Second, cfg.Retrieval.AttemptTimeout)
	assert.Equal(suite.T(), 6, cfg.Retrieval.TopK)
	assert.Equal(suite.T(), "frontend tooling", cfg.Persona.Subject)
	// untouched sections keep their defaults
	assert.Equal(suite.T(), 10, cfg.Retrieval.LookupLimit)
}

func (suite *ConfigTestSuite) TestLoadConfigEnvOverride() {
	suite.T().Setenv("EGR_RETRIEVAL_MAX_ATTEMPTS", "5")
	suite.T().Setenv("EGR_LLM_MODEL", "local-model")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 5, cfg.Retrieval.MaxAttempts)
	assert.Equal(suite.T(), "local-model", cfg.LLM.Model)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
retrieval:
  max_attempts: 3
  invalid_yaml: [unclosed bracket
`

	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	err := os.WriteFile(configFile, []byte(malformedContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsInvalidPolicy() {
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte("retrieval:\n  max_attempts: 0\n"), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	assert.ErrorContains(suite.T(), err, "max_attempts")
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestAppConfigGlobal() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), cfg.Database.URL, Current().Database.URL)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Database:  DatabaseConfig{URL: "file:x.db"},
			LLM:       LLMConfig{Provider: "openai"},
			Embedding: EmbeddingConfig{Provider: "ollama"},
			Retrieval: RetrievalConfig{
				MaxAttempts:      3,
				AttemptTimeout:   time.Second,
				LoopTimeout:      3 * time.Second,
				LookupLimit:      10,
				ExploratoryLimit: 20,
				MaxRows:          20,
				TopK:             5,
			},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Retrieval.TopK = 50
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Retrieval.LoopTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Embedding.Provider = "hugot"
	assert.Error(t, cfg.Validate())
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		cfg, err := LoadConfig("")
		if err != nil {
			b.Fatal(err)
		}
		_ = cfg
	}
}
