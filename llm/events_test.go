package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

func emitTestEvents(t *testing.T, fullContent bool, entries ...func(*EventLogger)) []Event {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := NewEventLogger(path, fullContent)
	if err != nil {
		t.Fatalf("failed to create event logger: %v", err)
	}
	for _, entry := range entries {
		entry(logger)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close event logger: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("invalid JSONL line %q: %v", scanner.Text(), err)
		}
		events = append(events, event)
	}
	return events
}

func TestEventLoggerEmit(t *testing.T) {
	req := nl2kql.ChatRequest{Purpose: "translate"}
	result := nl2kql.ChatResult{
		Content:      "AppRequests | take 5",
		FinishReason: "stop",
		Attempts:     2,
		Escalated:    true,
		Metadata: nl2kql.ChatMetadata{
			ModelFamily:      nl2kql.ModelFamilyStandard,
			Deployment:       "gpt-4o",
			InitialMaxTokens: 500,
			FinalMaxTokens:   750,
			Temperature:      0.35,
			PromptTokens:     120,
			CompletionTokens: 30,
		},
	}

	events := emitTestEvents(t, false, func(l *EventLogger) {
		if err := l.Emit(req, result, nil); err != nil {
			t.Fatalf("emit failed: %v", err)
		}
	})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if !event.OK || event.Purpose != "translate" || event.Deployment != "gpt-4o" {
		t.Errorf("unexpected event: %+v", event)
	}
	if !event.Escalated || event.Attempts != 2 {
		t.Errorf("escalation fields not carried: %+v", event)
	}
	if event.InitialMaxTokens != 500 || event.FinalMaxTokens != 750 {
		t.Errorf("token budgets not carried: %+v", event)
	}
	if event.ContentHash == "" || event.ContentPreview != "AppRequests | take 5" {
		t.Errorf("content digest missing: %+v", event)
	}
	if event.Content != "" {
		t.Error("full content must be omitted unless enabled")
	}
}

func TestEventLoggerFullContentAndPreviewCap(t *testing.T) {
	long := strings.Repeat("x", 500)
	result := nl2kql.ChatResult{Content: long}

	events := emitTestEvents(t, true, func(l *EventLogger) {
		if err := l.Emit(nl2kql.ChatRequest{}, result, nil); err != nil {
			t.Fatalf("emit failed: %v", err)
		}
	})

	event := events[0]
	if len(event.ContentPreview) != previewChars {
		t.Errorf("preview should be capped at %d chars, got %d", previewChars, len(event.ContentPreview))
	}
	if event.Content != long {
		t.Error("full content logging was enabled but content is missing")
	}
}

func TestEventLoggerRecordsErrors(t *testing.T) {
	result := nl2kql.ChatResult{
		Attempts: 3,
		Metadata: nl2kql.ChatMetadata{ErrorCode: string(CodeRateLimit)},
	}

	events := emitTestEvents(t, false, func(l *EventLogger) {
		if err := l.Emit(nl2kql.ChatRequest{Purpose: "translate"}, result,
			errors.New("rate_limit (status 429)")); err != nil {
			t.Fatalf("emit failed: %v", err)
		}
	})

	event := events[0]
	if event.OK {
		t.Error("failed completions must be marked not ok")
	}
	if event.ErrorCode != string(CodeRateLimit) || event.Error == "" {
		t.Errorf("error fields not carried: %+v", event)
	}
}
