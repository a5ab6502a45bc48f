package llm

import (
	"context"
	"errors"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

// openAITransport sends chat completions through the go-openai SDK. It is
// used for public OpenAI endpoints, where deployment routing and the api-key
// header of the Azure REST surface do not apply.
type openAITransport struct {
	cfg    Config
	client *goopenai.Client
}

// NewOpenAIClient creates a Client backed by the public OpenAI API instead
// of an Azure deployment. Model selection reuses cfg.Deployment, and api may
// be nil to build a client from cfg.APIKey.
func NewOpenAIClient(cfg Config, api *goopenai.Client) (*Client, error) {
	cfg.Normalize()
	if api == nil {
		if cfg.APIKey == "" {
			return nil, errors.New("api key is required")
		}
		api = goopenai.NewClient(cfg.APIKey)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com"
	}
	if cfg.APIKey == "" {
		// The key lives inside the injected client.
		cfg.APIKey = "injected"
	}

	client, err := NewClient(cfg, nil)
	if err != nil {
		return nil, err
	}
	client.transport = &openAITransport{cfg: client.cfg, client: api}
	return client, nil
}

func (o *openAITransport) send(ctx context.Context, req request) (completion, error) {
	chatReq := goopenai.ChatCompletionRequest{
		Model: o.cfg.Deployment,
	}

	if o.cfg.ModelFamily() == nl2kql.ModelFamilyConstrained {
		merged := req.user
		if req.system != "" {
			merged = req.system + "\n\n" + req.user
		}
		chatReq.Messages = []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: merged},
		}
		chatReq.MaxCompletionTokens = req.maxTokens
	} else {
		if req.system != "" {
			chatReq.Messages = append(chatReq.Messages, goopenai.ChatCompletionMessage{
				Role: goopenai.ChatMessageRoleSystem, Content: req.system,
			})
		}
		chatReq.Messages = append(chatReq.Messages, goopenai.ChatCompletionMessage{
			Role: goopenai.ChatMessageRoleUser, Content: req.user,
		})
		chatReq.MaxTokens = req.maxTokens
		if req.temperature != nil {
			chatReq.Temperature = *req.temperature
		}
		if req.topP != nil {
			chatReq.TopP = *req.topP
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return completion{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return completion{}, &APIError{Code: CodeEmptyCompletion, Message: "response has no choices"}
	}

	choice := resp.Choices[0]
	return completion{
		content:          choice.Message.Content,
		finishReason:     string(choice.FinishReason),
		promptTokens:     resp.Usage.PromptTokens,
		completionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *goopenai.APIError
	if !errors.As(err, &apiErr) {
		return classifyTransportError(err)
	}

	code := CodeHTTP
	switch apiErr.HTTPStatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = CodeAuth
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusTooManyRequests:
		code = CodeRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = CodeTimeout
	}
	return &APIError{Code: code, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
}
