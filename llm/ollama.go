package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// ollamaTransport runs chat completions against a local Ollama server, used
// for offline development without an Azure deployment. Responses are
// accumulated from the streaming callback.
type ollamaTransport struct {
	cfg    Config
	client *api.Client
}

// NewOllamaClient creates a Client backed by an Ollama server. host should
// be a valid URL such as http://localhost:11434 and cfg.Deployment names the
// local model.
func NewOllamaClient(host string, cfg Config) (*Client, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, err
	}

	cfg.Normalize()
	if cfg.Endpoint == "" {
		cfg.Endpoint = host
	}
	if cfg.APIKey == "" {
		// Ollama has no authentication.
		cfg.APIKey = "local"
	}

	client, err := NewClient(cfg, nil)
	if err != nil {
		return nil, err
	}
	client.transport = &ollamaTransport{
		cfg:    client.cfg,
		client: api.NewClient(u, &http.Client{Timeout: client.cfg.Timeout}),
	}
	return client, nil
}

func (o *ollamaTransport) send(ctx context.Context, req request) (completion, error) {
	messages := make([]api.Message, 0, 2)
	if req.system != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.system})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.user})

	opts := map[string]any{
		"num_predict": req.maxTokens,
	}
	if req.temperature != nil {
		opts["temperature"] = *req.temperature
	}
	if req.topP != nil {
		opts["top_p"] = *req.topP
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    o.cfg.Deployment,
		Messages: messages,
		Options:  opts,
		Stream:   &stream,
	}

	var content strings.Builder
	var doneReason string
	if err := o.client.Chat(ctx, chatReq, func(res api.ChatResponse) error {
		content.WriteString(res.Message.Content)
		if res.Done {
			doneReason = res.DoneReason
		}
		return nil
	}); err != nil {
		return completion{}, classifyTransportError(err)
	}

	finish := "stop"
	if doneReason == "length" {
		finish = "length"
	}
	return completion{
		content:      RemoveThinkTags(content.String()),
		finishReason: finish,
	}, nil
}
