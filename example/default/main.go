package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
	nl2kql "github.com/soundprediction/go-nl2kql"
	"github.com/soundprediction/go-nl2kql/handler"
	"github.com/soundprediction/go-nl2kql/llm"
	"github.com/soundprediction/go-nl2kql/storage"
	"gopkg.in/yaml.v2"
)

type config struct {
	AzureEndpoint   string `yaml:"azure_endpoint"`
	AzureAPIKey     string `yaml:"azure_api_key"`
	AzureDeployment string `yaml:"azure_deployment"`

	OpenAIAPIKey string `yaml:"openai_api_key"`

	ContainersDir  string `yaml:"containers_dir"`
	AppInsightsDir string `yaml:"appinsights_dir"`

	LogLevel string `yaml:"log_level"`
}

const configPath = "config.yaml"

func main() {
	// Load configuration from YAML file
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		return
	}

	// Set log level based on configuration
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	llmCfg, err := chatConfig(cfg)
	if err != nil {
		fmt.Printf("Error building chat configuration: %v\n", err)
		return
	}

	chat, err := llm.NewClient(llmCfg, logger)
	if err != nil {
		fmt.Printf("Error creating chat client: %v\n", err)
		return
	}

	cache, err := storage.NewBolt("corpus.db")
	if err != nil {
		fmt.Printf("Error creating boltDB: %v\n", err)
		return
	}
	defer func() {
		if err := cache.Close(); err != nil {
			fmt.Printf("Error closing boltDB: %v\n", err)
		}
	}()

	// The vector index is optional. Without an embedding key the translator
	// falls back to heuristic-only example selection.
	var index nl2kql.VectorIndex
	if cfg.OpenAIAPIKey != "" {
		embed := storage.EmbeddingFunc(
			chromem.NewEmbeddingFuncOpenAI(cfg.OpenAIAPIKey, chromem.EmbeddingModelOpenAI3Small))
		vecDB, err := storage.NewChromem("vec.db", storage.Normalized(embed))
		if err != nil {
			fmt.Printf("Error creating chromemDB: %v\n", err)
			return
		}
		index = vecDB
	}

	handlers := map[nl2kql.Domain]nl2kql.DomainHandler{
		nl2kql.DomainContainers:  handler.Containers{Dir: cfg.ContainersDir, Cache: cache},
		nl2kql.DomainAppInsights: handler.AppInsights{Dir: cfg.AppInsightsDir, Cache: cache},
	}

	translator, err := nl2kql.New(chat, handlers, index, logger, nl2kql.DefaultOptions())
	if err != nil {
		fmt.Printf("Error creating translator: %v\n", err)
		return
	}

	// Start the question loop
	run(translator, logger)
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &cfg, nil
}

// chatConfig prefers the YAML file and falls back to AZURE_OPENAI_*
// environment variables when the file carries no endpoint.
func chatConfig(cfg *config) (llm.Config, error) {
	if cfg.AzureEndpoint == "" {
		return llm.ConfigFromEnv()
	}

	return llm.Config{
		Endpoint:   cfg.AzureEndpoint,
		APIKey:     cfg.AzureAPIKey,
		Deployment: cfg.AzureDeployment,
	}, nil
}

func run(translator *nl2kql.Translator, logger *slog.Logger) {
	for {
		fmt.Println("Ask a question: (type 'exit' to exit)")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Printf("Error reading input: %v\n", err)
			return
		}
		line = strings.TrimSpace(line)

		if line == "exit" {
			fmt.Println("Exiting...")
			return
		}

		logger.Info("User question", "question", line)

		now := time.Now()

		query := translator.TranslateString(context.Background(), line)

		logger.Info("Translated question", "duration in milliseconds", time.Since(now).Milliseconds())

		fmt.Println("\nKQL:")
		fmt.Println(query)
		fmt.Println()
	}
}
