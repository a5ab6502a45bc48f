package nl2kql_test

import (
	"errors"
	"testing"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

func TestDetectDomain(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     nl2kql.Domain
	}{
		{name: "container keyword", question: "show me failing pods", want: nl2kql.DomainContainers},
		{name: "container table name", question: "top rows from ContainerLogV2", want: nl2kql.DomainContainers},
		{name: "app insights keyword", question: "slowest requests today", want: nl2kql.DomainAppInsights},
		{name: "app insights table name", question: "count rows in AppExceptions", want: nl2kql.DomainAppInsights},
		{
			name:     "conflict without strong container signal",
			question: "requests from the deployment",
			want:     nl2kql.DomainAppInsights,
		},
		{
			name:     "conflict with container table",
			question: "requests logged in kubepodinventory",
			want:     nl2kql.DomainContainers,
		},
		{
			name:     "pods pending forces containers",
			question: "why are my pods pending instead of serving requests",
			want:     nl2kql.DomainContainers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nl2kql.DetectDomain(tt.question)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectDomain(%q) = %s, want %s", tt.question, got, tt.want)
			}
		})
	}
}

func TestDetectDomainAmbiguous(t *testing.T) {
	for _, question := range []string{
		"how is everything going",
		"",
		"show me the numbers",
	} {
		_, err := nl2kql.DetectDomain(question)
		if !errors.Is(err, nl2kql.ErrAmbiguousDomain) {
			t.Errorf("DetectDomain(%q) should be ambiguous, got %v", question, err)
		}
	}
}
