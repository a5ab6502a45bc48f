package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

// ErrorCode classifies a chat failure for retry decisions and telemetry.
type ErrorCode string

const (
	CodeAuth            ErrorCode = "auth"
	CodeRateLimit       ErrorCode = "rate_limit"
	CodeNotFound        ErrorCode = "not_found"
	CodeTimeout         ErrorCode = "timeout"
	CodeConnection      ErrorCode = "connection"
	CodeEmptyCompletion ErrorCode = "empty_completion"
	CodeContentFiltered ErrorCode = "content_filtered"
	CodeHTTP            ErrorCode = "http"
	CodeAPI             ErrorCode = "api"
)

// APIError is a classified chat failure.
type APIError struct {
	Code       ErrorCode
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fatal reports that retrying the request cannot succeed.
func (e *APIError) Fatal() bool {
	return e.Code == CodeAuth || e.Code == CodeNotFound
}

// Transient reports that the same request may succeed on retry.
func (e *APIError) Transient() bool {
	return e.Code == CodeRateLimit || e.Code == CodeTimeout || e.Code == CodeConnection
}

// request is the provider-neutral shape handed to a transport. system may be
// empty; transports merge it per the model family's message rules.
type request struct {
	system      string
	user        string
	maxTokens   int
	temperature *float32
	topP        *float32
}

// completion is a transport's successful response.
type completion struct {
	content          string
	finishReason     string
	promptTokens     int
	completionTokens int
}

// transport sends one chat completion request. Implementations return
// *APIError for classified failures.
type transport interface {
	send(ctx context.Context, req request) (completion, error)
}

// Client is a retrying chat client with single-shot token escalation. It
// implements nl2kql.ChatClient.
type Client struct {
	cfg       Config
	transport transport
	logger    *slog.Logger
	events    *EventLogger

	// sleep is swapped in tests.
	sleep func(time.Duration)
}

// NewClient creates a Client backed by the Azure OpenAI chat completions
// endpoint described by cfg.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.Normalize()
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return nil, errors.New("endpoint and api key are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("module", "llm"))
	logger.Debug("Configured chat client",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("deployment", cfg.Deployment),
		slog.String("api_version", cfg.APIVersion),
		slog.String("api_key", maskKey(cfg.APIKey)),
		slog.String("family", string(cfg.ModelFamily())))

	var events *EventLogger
	if cfg.EventLogPath != "" {
		var err error
		events, err = NewEventLogger(cfg.EventLogPath, cfg.EventLogFullContent)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
	}

	azure := &azureTransport{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	return &Client{
		cfg:       cfg,
		transport: azure,
		logger:    logger,
		events:    events,
		sleep:     time.Sleep,
	}, nil
}

// Complete sends a chat request, retrying transient failures with backoff
// and reissuing once with a larger token budget when the completion was cut
// off by its limit.
func (c *Client) Complete(ctx context.Context, req nl2kql.ChatRequest) (nl2kql.ChatResult, error) {
	family := c.cfg.ModelFamily()
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxOutputTokens
	}
	temperature := c.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	topP := c.cfg.TopP
	if req.TopP != nil {
		topP = *req.TopP
	}

	meta := nl2kql.ChatMetadata{
		ModelFamily:      family,
		Deployment:       c.cfg.Deployment,
		InitialMaxTokens: maxTokens,
		FinalMaxTokens:   maxTokens,
		Temperature:      temperature,
	}

	send := func(maxTokens int, temperature float32) (completion, error) {
		tr := request{
			system:    req.SystemPrompt,
			user:      req.UserPrompt,
			maxTokens: maxTokens,
		}
		if family == nl2kql.ModelFamilyStandard {
			t, p := temperature, topP
			tr.temperature = &t
			tr.topP = &p
		}
		return c.transport.send(ctx, tr)
	}

	var comp completion
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attempts++
		var err error
		comp, err = send(maxTokens, temperature)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Transient() || ctx.Err() != nil {
			break
		}

		delay := c.backoff(apiErr.Code, attempt)
		c.logger.Warn("Chat attempt failed, backing off",
			slog.String("purpose", req.Purpose),
			slog.Int("attempt", attempt),
			slog.String("code", string(apiErr.Code)),
			slog.Duration("delay", delay))
		if attempt < c.cfg.MaxRetries-1 {
			c.sleep(delay)
		}
	}

	result := nl2kql.ChatResult{Attempts: attempts, Metadata: meta}
	if lastErr != nil {
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) {
			result.Metadata.ErrorCode = string(apiErr.Code)
		}
		c.emit(req, result, lastErr)
		return result, lastErr
	}

	// Escalate once when the completion hit its token limit and there is
	// headroom below the ceiling.
	escalated := false
	if comp.finishReason == "length" && req.AllowEscalation && maxTokens < c.cfg.MaxOutputTokensCeiling {
		newMax := escalateTokens(maxTokens, c.cfg.MaxOutputTokensCeiling)
		newTemp := temperature
		if family == nl2kql.ModelFamilyStandard && temperature+c.cfg.TemperatureStep <= c.cfg.TemperatureMax {
			newTemp = temperature + c.cfg.TemperatureStep
		}
		c.logger.Info("Escalating truncated completion",
			slog.String("purpose", req.Purpose),
			slog.Int("max_tokens", maxTokens),
			slog.Int("new_max_tokens", newMax))

		second, err := send(newMax, newTemp)
		if err == nil {
			comp = second
			maxTokens = newMax
			temperature = newTemp
			escalated = true
		} else {
			c.logger.Warn("Escalated reissue failed, keeping truncated completion",
				slog.String("err", err.Error()))
		}
	}

	result = nl2kql.ChatResult{
		Content:      comp.content,
		FinishReason: comp.finishReason,
		Attempts:     attempts,
		Escalated:    escalated,
		Metadata: nl2kql.ChatMetadata{
			ModelFamily:      family,
			Deployment:       c.cfg.Deployment,
			InitialMaxTokens: meta.InitialMaxTokens,
			FinalMaxTokens:   maxTokens,
			Temperature:      temperature,
			PromptTokens:     comp.promptTokens,
			CompletionTokens: comp.completionTokens,
		},
	}

	if comp.finishReason == "content_filter" {
		err := &APIError{Code: CodeContentFiltered, Message: "completion blocked by content filter"}
		result.Metadata.ErrorCode = string(CodeContentFiltered)
		c.emit(req, result, err)
		return result, err
	}
	if comp.content == "" {
		err := &APIError{Code: CodeEmptyCompletion, Message: "completion has no content"}
		result.Metadata.ErrorCode = string(CodeEmptyCompletion)
		c.emit(req, result, err)
		return result, err
	}

	c.emit(req, result, nil)
	return result, nil
}

// backoff picks the delay before the next attempt: exponential for rate
// limits, linear for timeouts and connection failures.
func (c *Client) backoff(code ErrorCode, attempt int) time.Duration {
	if code == CodeRateLimit {
		return c.cfg.RetryDelay * time.Duration(1<<attempt)
	}
	return c.cfg.RetryDelay * time.Duration(attempt+1)
}

// escalateTokens grows a token budget that proved too small: half again as
// much, at least 50 more, never past the ceiling.
func escalateTokens(current, ceiling int) int {
	next := current + current/2
	if next < current+50 {
		next = current + 50
	}
	if next > ceiling {
		next = ceiling
	}
	return next
}

func (c *Client) emit(req nl2kql.ChatRequest, result nl2kql.ChatResult, err error) {
	if c.events == nil {
		return
	}
	if emitErr := c.events.Emit(req, result, err); emitErr != nil {
		c.logger.Warn("Failed to emit chat event", slog.String("err", emitErr.Error()))
	}
}
