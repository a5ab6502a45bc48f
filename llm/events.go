package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

const previewChars = 120

// Event is one chat completion outcome, appended as a JSON line. Content is
// carried as a hash and short preview unless full content logging was
// enabled explicitly.
type Event struct {
	Timestamp string `json:"ts"`
	Purpose   string `json:"purpose"`

	Deployment  string `json:"deployment"`
	ModelFamily string `json:"model_family"`

	OK        bool   `json:"ok"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`

	Attempts     int    `json:"attempts"`
	Escalated    bool   `json:"escalated"`
	FinishReason string `json:"finish_reason,omitempty"`

	InitialMaxTokens int     `json:"initial_max_tokens"`
	FinalMaxTokens   int     `json:"final_max_tokens"`
	Temperature      float32 `json:"temperature"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`

	ContentHash    string `json:"content_hash,omitempty"`
	ContentPreview string `json:"content_preview,omitempty"`
	Content        string `json:"content,omitempty"`
}

// EventLogger appends chat events to a JSONL file. It serializes writes and
// is safe for concurrent use.
type EventLogger struct {
	mu          sync.Mutex
	file        *os.File
	fullContent bool
}

// NewEventLogger opens (or creates) the JSONL file at path for appending.
func NewEventLogger(path string, fullContent bool) (*EventLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	return &EventLogger{file: file, fullContent: fullContent}, nil
}

// Emit appends one event describing the request outcome.
func (l *EventLogger) Emit(req nl2kql.ChatRequest, result nl2kql.ChatResult, chatErr error) error {
	event := Event{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Purpose:          req.Purpose,
		Deployment:       result.Metadata.Deployment,
		ModelFamily:      string(result.Metadata.ModelFamily),
		OK:               chatErr == nil,
		ErrorCode:        result.Metadata.ErrorCode,
		Attempts:         result.Attempts,
		Escalated:        result.Escalated,
		FinishReason:     result.FinishReason,
		InitialMaxTokens: result.Metadata.InitialMaxTokens,
		FinalMaxTokens:   result.Metadata.FinalMaxTokens,
		Temperature:      result.Metadata.Temperature,
		PromptTokens:     result.Metadata.PromptTokens,
		CompletionTokens: result.Metadata.CompletionTokens,
	}
	if chatErr != nil {
		event.Error = chatErr.Error()
	}
	if result.Content != "" {
		event.ContentHash = fmt.Sprintf("%016x", xxhash.Sum64String(result.Content))
		event.ContentPreview = preview(result.Content)
		if l.fullContent {
			event.Content = result.Content
		}
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewChars {
		return content
	}
	return string(runes[:previewChars])
}
