package handler

import (
	"fmt"
	"path/filepath"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

// appInsightsExampleFiles are the per-table example corpora, concatenated in
// this order so corpus indices stay stable.
var appInsightsExampleFiles = []string{
	"app_requests_kql_examples.md",
	"app_exceptions_kql_examples.md",
	"app_traces_kql_examples.md",
	"app_performance_kql_examples.md",
}

// AppInsights loads the Application Insights domain from the
// app_insights_capsule directory under Dir. The domain has no KQL helper
// functions, only examples and a capsule.
type AppInsights struct {
	Dir   string
	Cache nl2kql.CorpusCache
}

// Context aggregates the per-table example files and the capsule README.
// Missing files are skipped.
func (a AppInsights) Context() (nl2kql.DomainContext, error) {
	capsuleDir := filepath.Join(a.Dir, "app_insights_capsule")

	var examples []nl2kql.Example
	for _, name := range appInsightsExampleFiles {
		parsed, err := nl2kql.LoadExamples(
			filepath.Join(capsuleDir, "kql_examples", name), a.Cache)
		if err != nil {
			return nl2kql.DomainContext{}, fmt.Errorf("failed to load %s: %w", name, err)
		}
		examples = append(examples, parsed...)
	}

	capsule, err := readLimited(filepath.Join(capsuleDir, "README.md"), appInsightsCapsule)
	if err != nil {
		return nl2kql.DomainContext{}, err
	}

	return nl2kql.DomainContext{
		Examples: examples,
		Capsule:  capsule,
	}, nil
}
