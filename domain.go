package nl2kql

import (
	"fmt"
	"regexp"
	"strings"
)

// Keyword vocabularies per domain. A keyword match is a weak signal; table
// name regex matches and the pods-pending heuristic are strong signals used
// to break conflicts.
var containerKeywords = []string{
	"container", "containerlogv2", "pod", "namespace", "kube", "crashloop",
	"crashloopbackoff", "stderr", "latency", "stack trace", "image",
	"workload", "latencyms", "containerlog", "kubernetes", "k8s",
	"daemonset", "statefulset", "deployment",
	"pods", "namespaces", "containers", "restart", "restarts", "pending",
	"schedule", "scheduling",
}

var appInsightsKeywords = []string{
	"application", "applications", "app", "apps", "trace", "traces",
	"apptraces", "request", "requests", "apprequests", "dependency",
	"dependencies", "appdependencies", "exception", "exceptions",
	"appexceptions", "customevent", "customevents",
}

var (
	containerTableRe = regexp.MustCompile(
		`(?i)\b(containerlogv2|containerlog|kubepodinventory|kubepod|insightsmetrics|containerinventory|kubeevents?)\b`)
	appTableRe = regexp.MustCompile(
		`(?i)\b(apprequests|appexceptions|apptraces|appdependencies|apppageviews|appcustomevents)\b`)
)

// DetectDomain assigns the question to exactly one domain based on keyword
// and table-name signals.
//
// Resolution order: a side with exclusive matches wins; when both sides
// match, containers wins if a container table name or the pods-pending
// heuristic fired, otherwise app insights is preferred; when neither side
// matches, ErrAmbiguousDomain is returned and the caller must not guess.
func DetectDomain(question string) (Domain, error) {
	q := strings.ToLower(question)

	var containerMatches, appMatches int
	for _, kw := range containerKeywords {
		if strings.Contains(q, kw) {
			containerMatches++
		}
	}
	for _, kw := range appInsightsKeywords {
		if strings.Contains(q, kw) {
			appMatches++
		}
	}

	containerStrong := containerTableRe.MatchString(q)
	if appTableRe.MatchString(q) {
		appMatches++
	}
	if containerStrong {
		containerMatches++
	}

	// Pods stuck in pending is a container scheduling question even when app
	// keywords also partially match.
	if (strings.Contains(q, "pod") || strings.Contains(q, "pods")) && strings.Contains(q, "pending") {
		containerMatches++
		containerStrong = true
	}

	switch {
	case containerMatches > 0 && appMatches == 0:
		return DomainContainers, nil
	case appMatches > 0 && containerMatches == 0:
		return DomainAppInsights, nil
	case containerMatches > 0 && appMatches > 0:
		if containerStrong {
			return DomainContainers, nil
		}
		return DomainAppInsights, nil
	}

	return "", fmt.Errorf(
		"%w: include explicit domain indicators (e.g. 'pod', 'containerlogv2' or 'request', 'apprequests')",
		ErrAmbiguousDomain)
}
