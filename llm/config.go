package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

const (
	defaultStandardAPIVersion    = "2024-09-01-preview"
	defaultConstrainedAPIVersion = "2024-12-01-preview"
	defaultDeployment            = "gpt-35-turbo"
)

// Config holds the Azure OpenAI connection settings and the retry and
// escalation tuning for the chat client. Fields left zero are completed by
// Normalize.
type Config struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"apiKey"`
	Deployment string `yaml:"deployment"`

	// APIVersion overrides the adaptive default, which follows the model
	// family of the deployment.
	APIVersion string `yaml:"apiVersion"`

	MaxOutputTokens        int `yaml:"maxOutputTokens"`
	MaxOutputTokensCeiling int `yaml:"maxOutputTokensCeiling"`

	Temperature     float32 `yaml:"temperature"`
	TemperatureStep float32 `yaml:"temperatureStep"`
	TemperatureMax  float32 `yaml:"temperatureMax"`
	TopP            float32 `yaml:"topP"`

	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
	Timeout    time.Duration `yaml:"timeout"`

	EventLogPath        string `yaml:"eventLogPath"`
	EventLogFullContent bool   `yaml:"eventLogFullContent"`
}

// ConfigFromEnv builds a Config from the AZURE_OPENAI_* environment, the
// layout used by the deployment scripts. Endpoint and key are required.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:               os.Getenv("AZURE_OPENAI_ENDPOINT"),
		APIKey:                 os.Getenv("AZURE_OPENAI_KEY"),
		Deployment:             os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
		APIVersion:             os.Getenv("AZURE_OPENAI_API_VERSION"),
		MaxOutputTokens:        envInt("AZURE_OPENAI_MAX_TOKENS", 500, 16, 32000),
		MaxOutputTokensCeiling: envInt("AZURE_OPENAI_MAX_TOKENS_CEILING", 2000, 16, 64000),
		Temperature:            envFloat("AZURE_OPENAI_TEMPERATURE", 0.3, 0, 2),
		TemperatureStep:        envFloat("AZURE_OPENAI_TEMPERATURE_STEP", 0.05, 0, 1),
		TemperatureMax:         envFloat("AZURE_OPENAI_TEMPERATURE_MAX", 0.9, 0, 2),
		TopP:                   envFloat("AZURE_OPENAI_TOP_P", 0.9, 0, 1),
		MaxRetries:             envInt("AZURE_OPENAI_MAX_RETRIES", 3, 1, 10),
		RetryDelay:             time.Duration(envInt("AZURE_OPENAI_RETRY_DELAY_MS", 2000, 0, 60000)) * time.Millisecond,
		Timeout:                time.Duration(envInt("AZURE_OPENAI_TIMEOUT_SECONDS", 30, 1, 600)) * time.Second,
		EventLogPath:           os.Getenv("NL2KQL_EVENT_LOG"),
		EventLogFullContent:    os.Getenv("NL2KQL_EVENT_LOG_FULL_CONTENT") == "1",
	}

	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return Config{}, fmt.Errorf("AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_KEY must be set")
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills defaults and canonicalizes the endpoint. It is idempotent
// and called by NewClient, so yaml-loaded configs need not call it.
func (c *Config) Normalize() {
	if c.Deployment == "" {
		c.Deployment = defaultDeployment
	}
	if c.Endpoint != "" && !strings.HasPrefix(c.Endpoint, "http") {
		c.Endpoint = "https://" + c.Endpoint
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")

	if c.APIVersion == "" {
		if c.ModelFamily() == nl2kql.ModelFamilyConstrained {
			c.APIVersion = defaultConstrainedAPIVersion
		} else {
			c.APIVersion = defaultStandardAPIVersion
		}
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 500
	}
	if c.MaxOutputTokensCeiling < c.MaxOutputTokens {
		c.MaxOutputTokensCeiling = 2000
		if c.MaxOutputTokensCeiling < c.MaxOutputTokens {
			c.MaxOutputTokensCeiling = c.MaxOutputTokens
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.TemperatureStep == 0 {
		c.TemperatureStep = 0.05
	}
	if c.TemperatureMax == 0 {
		c.TemperatureMax = 0.9
	}
	if c.TopP == 0 {
		c.TopP = 0.9
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// ModelFamily reports whether the deployment is a constrained reasoning
// model, which only accepts a merged user message and max_completion_tokens.
func (c Config) ModelFamily() nl2kql.ModelFamily {
	d := strings.ToLower(c.Deployment)
	if strings.Contains(d, "o1") || strings.Contains(d, "o4") {
		return nl2kql.ModelFamilyConstrained
	}
	return nl2kql.ModelFamilyStandard
}

func (c Config) chatCompletionsURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.Endpoint, c.Deployment, c.APIVersion)
}

// maskKey renders an API key for logs without revealing it.
func maskKey(k string) string {
	if k == "" {
		return ""
	}
	prefix := k
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return fmt.Sprintf("%s***len=%d", prefix, len(k))
}

// envInt reads an integer environment variable, falling back to the default
// when unset, malformed, or outside [minValue, maxValue].
func envInt(name string, def, minValue, maxValue int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < minValue || val > maxValue {
		return def
	}
	return val
}

func envFloat(name string, def, minValue, maxValue float32) float32 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 32)
	if err != nil || float32(val) < minValue || float32(val) > maxValue {
		return def
	}
	return float32(val)
}
