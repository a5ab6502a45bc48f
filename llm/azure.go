package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

// azureTransport talks to the Azure OpenAI chat completions REST endpoint
// directly. Payload shape follows the model family: standard deployments get
// system+user messages with max_tokens and sampling parameters, constrained
// reasoning deployments get a single merged user message with
// max_completion_tokens and no sampling parameters.
type azureTransport struct {
	cfg        Config
	httpClient *http.Client
}

type azureMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type azurePayload struct {
	Messages            []azureMessage `json:"messages"`
	MaxTokens           int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float32       `json:"temperature,omitempty"`
	TopP                *float32       `json:"top_p,omitempty"`
}

type azureResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (a *azureTransport) send(ctx context.Context, req request) (completion, error) {
	payload := a.buildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.cfg.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return completion{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return completion{}, classifyStatus(resp)
	}

	var decoded azureResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return completion{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Error != nil {
		return completion{}, &APIError{
			Code:    CodeAPI,
			Message: fmt.Sprintf("%s (%s)", decoded.Error.Message, decoded.Error.Code),
		}
	}
	if len(decoded.Choices) == 0 {
		return completion{}, &APIError{Code: CodeEmptyCompletion, Message: "response has no choices"}
	}

	choice := decoded.Choices[0]
	content := decodeContent(choice.Message.Content)
	if content == "" {
		content = choice.Text
	}

	return completion{
		content:          content,
		finishReason:     choice.FinishReason,
		promptTokens:     decoded.Usage.PromptTokens,
		completionTokens: decoded.Usage.CompletionTokens,
	}, nil
}

func (a *azureTransport) buildPayload(req request) azurePayload {
	if a.cfg.ModelFamily() == nl2kql.ModelFamilyConstrained {
		merged := req.user
		if req.system != "" {
			merged = req.system + "\n\n" + req.user
		}
		return azurePayload{
			Messages:            []azureMessage{{Role: "user", Content: merged}},
			MaxCompletionTokens: req.maxTokens,
		}
	}

	messages := make([]azureMessage, 0, 2)
	if req.system != "" {
		messages = append(messages, azureMessage{Role: "system", Content: req.system})
	}
	messages = append(messages, azureMessage{Role: "user", Content: req.user})
	return azurePayload{
		Messages:    messages,
		MaxTokens:   req.maxTokens,
		Temperature: req.temperature,
		TopP:        req.topP,
	}
}

// decodeContent accepts both the plain string content and the parts-list
// form some API versions return.
func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, part := range parts {
			if part.Type == "" || part.Type == "text" {
				sb.WriteString(part.Text)
			}
		}
		return sb.String()
	}
	return ""
}

func classifyStatus(resp *http.Response) *APIError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))

	code := CodeHTTP
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = CodeAuth
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusTooManyRequests:
		code = CodeRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = CodeTimeout
	}
	return &APIError{Code: code, StatusCode: resp.StatusCode, Message: msg}
}

func classifyTransportError(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Code: CodeTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Code: CodeTimeout, Message: err.Error()}
	}
	return &APIError{Code: CodeConnection, Message: err.Error()}
}
