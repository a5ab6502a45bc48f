package handler_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soundprediction/go-nl2kql/handler"
)

func TestAppInsightsContext(t *testing.T) {
	dir := t.TempDir()
	capsuleDir := filepath.Join(dir, "app_insights_capsule")
	examplesDir := filepath.Join(capsuleDir, "kql_examples")
	if err := os.MkdirAll(examplesDir, 0o755); err != nil {
		t.Fatal(err)
	}

	requests := "**Slowest requests**\n\n```kql\nAppRequests | top 10 by DurationMs desc\n```\n"
	exceptions := "**Most common exceptions**\n\n```kql\nAppExceptions | summarize count() by ProblemId\n```\n"
	if err := os.WriteFile(filepath.Join(examplesDir, "app_requests_kql_examples.md"),
		[]byte(requests), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(examplesDir, "app_exceptions_kql_examples.md"),
		[]byte(exceptions), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(capsuleDir, "README.md"),
		[]byte("AppRequests records one row per served request."), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, err := handler.AppInsights{Dir: dir}.Context()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ctx.Examples) != 2 {
		t.Fatalf("expected 2 aggregated examples, got %d", len(ctx.Examples))
	}
	// Aggregation order follows the fixed file list, requests first.
	if ctx.Examples[0].Question != "Slowest requests" {
		t.Errorf("unexpected first question: %q", ctx.Examples[0].Question)
	}
	if ctx.Examples[1].Question != "Most common exceptions" {
		t.Errorf("unexpected second question: %q", ctx.Examples[1].Question)
	}
	if !strings.HasPrefix(ctx.Capsule, "AppRequests records") {
		t.Errorf("unexpected capsule: %q", ctx.Capsule)
	}
	if len(ctx.Functions) != 0 {
		t.Errorf("app insights domain has no helper functions, got %d", len(ctx.Functions))
	}
}

func TestAppInsightsContextMissingDirectory(t *testing.T) {
	ctx, err := handler.AppInsights{Dir: t.TempDir()}.Context()
	if err != nil {
		t.Fatalf("missing capsule directory must not error: %v", err)
	}
	if len(ctx.Examples) != 0 || ctx.Capsule != "" {
		t.Errorf("expected an empty context, got %+v", ctx)
	}
}

func TestAppInsightsCapsuleTruncated(t *testing.T) {
	dir := t.TempDir()
	capsuleDir := filepath.Join(dir, "app_insights_capsule")
	if err := os.MkdirAll(capsuleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(capsuleDir, "README.md"),
		[]byte(strings.Repeat("a", 2000)), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, err := handler.AppInsights{Dir: dir}.Context()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ctx.Capsule) != 603 {
		t.Errorf("capsule should be capped at 600 chars plus ellipsis, got %d", len(ctx.Capsule))
	}
	if !strings.HasSuffix(ctx.Capsule, "...") {
		t.Error("truncated capsule should end with an ellipsis")
	}
}
