package nl2kql_test

import (
	"strings"
	"testing"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

func TestNormalizeQueryStripsFences(t *testing.T) {
	raw := "```kql\nKubePodInventory\n| where PodStatus == \"Failed\"   \n```"
	want := "KubePodInventory\n| where PodStatus == \"Failed\""
	if got := nl2kql.NormalizeQuery(raw); got != want {
		t.Errorf("NormalizeQuery(%q) = %q, want %q", raw, got, want)
	}
}

func TestNormalizeQueryCollapsesBlankRuns(t *testing.T) {
	raw := "a\n\n\n\n\nb"
	want := "a\n\n\nb"
	if got := nl2kql.NormalizeQuery(raw); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeQueryIdempotent(t *testing.T) {
	inputs := []string{
		"```kql\nAppRequests | take 5\n```",
		"plain\n\n\n\nquery  ",
		"```\nfenced\n```",
	}
	for _, in := range inputs {
		once := nl2kql.NormalizeQuery(in)
		twice := nl2kql.NormalizeQuery(once)
		if once != twice {
			t.Errorf("normalization not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{name: "valid", query: "AppRequests | take 5"},
		{name: "too short", query: "ab", wantErr: "too short"},
		{name: "whitespace only", query: "   \n\t ", wantErr: "too short"},
		{name: "management command", query: ".show tables details", wantErr: "management command"},
		{name: "refusal", query: "Sorry, I cannot translate that question.", wantErr: "refusal"},
		{name: "apology", query: "I apologize but this is not possible to query.", wantErr: "refusal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := nl2kql.ValidateQuery(tt.query)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
