package nl2kql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/soundprediction/go-nl2kql/internal"
)

// CompressionStage records how far the prompt assembler had to shrink the
// system prompt to fit the token budget. Stages accumulate in order, so the
// value names every reduction that was applied.
type CompressionStage string

const (
	StageNone             CompressionStage = "none"
	StageCapsuleRemoved   CompressionStage = "capsule-removed"
	StageFunctionsTrunced CompressionStage = "capsule-removed+fn-trunc"
	StageFewShotsTrunced  CompressionStage = "capsule-removed+fn-trunc+fewshots-trunc"
	StageSlim             CompressionStage = "slim"
)

// PromptContext is the assembled prompt pair plus the metadata callers log
// alongside the completion.
type PromptContext struct {
	System string
	User   string

	Selected          []ScoredExample
	TokenCount        int
	TokenBudget       int
	Stage             CompressionStage
	SystemHash        string
	FunctionIndexHash string
}

const (
	initialFunctionCap   = 1000
	initialCapsuleCap    = 600
	stageOneFunctionCap  = 1200
	stageTwoFunctionCap  = 600
	stageThreeFnCap      = 500
	fewShotsCharCap      = 1600
	promptSchemaVersion  = 2
	defaultTokenBudget   = 6000
	functionDescCharsMax = 110
)

//nolint:lll
const systemCorePrompt = `# PromptSchemaVersion:{{.SchemaVersion}}
ROLE: Azure Log Analytics Observability Assistant (domain={{.Domain}})
Rules:
- Default timeframe: last 1h if unspecified.
- Do not fabricate table / column names.
- Use ContainerLogV2 for container app logs.
- Error = LogLevel in (CRITICAL, ERROR) OR LogSource=='stderr'.
- Provide counts + rates for error comparisons.
- Mask potential secrets (Bearer tokens, keys, PEM blocks).
- KQL only unless user explicitly asks for explanation / why / describe.

Context Addendum:
{{.Addendum}}

Output Mode: Return only the KQL query (no prose).`

// keywordContext maps query keywords to retrieval snippets appended to the
// system core when the keyword appears in the question.
var keywordContext = []struct {
	keyword string
	snippet string
}{
	{"error", "Errors classified via LogLevel CRITICAL/ERROR or stderr stream."},
	{"latency", "Latency extracted with regex latency[=:]([0-9]+)ms into LatencyMs."},
	{"slow", "Latency extracted with regex latency[=:]([0-9]+)ms into LatencyMs."},
	{"crash", "Crash loops require join with KubePodInventory restart counts."},
	{"restart", "Crash loops require join with KubePodInventory restart counts."},
	{"stack", "Stack traces detected if message contains Exception, Traceback, or ' at '."},
	{"trace", "Stack traces detected if message contains Exception, Traceback, or ' at '."},
	{"status", "If LogMessage dynamic has field 'status', filter with tostring(LogMessage.status)."},
	{"500", "Structured status filter example: where tostring(LogMessage.status)=='500'"},
	{"noisy", "Noisy container detection = count lines per container or workload."},
	{"volume", "High volume logs -> aggregate by WorkloadName then count()."},
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_.]+`),
	regexp.MustCompile(`-----BEGIN [A-Z ]+-----`),
}

// MaskSecrets replaces token, key, and PEM shaped substrings with [REDACTED]
// so assembled prompts never carry credentials to the model.
func MaskSecrets(text string) string {
	masked := text
	for _, pat := range secretPatterns {
		masked = pat.ReplaceAllString(masked, "[REDACTED]")
	}
	return masked
}

// BuildPrompt assembles the layered system prompt and the user prompt for a
// question. When the assembled prompt exceeds budget tokens it is shrunk in
// stages: drop the capsule, truncate the function index, then keep only the
// first few-shot example. Slim mode skips the layers entirely and carries a
// single example, used on retry attempts.
func BuildPrompt(question string, domain Domain, selected []ScoredExample,
	domainCtx DomainContext, budget int, slim bool,
) (PromptContext, error) {
	if budget <= 0 {
		budget = defaultTokenBudget
	}

	core, err := promptTemplate("system-core", systemCorePrompt, map[string]any{
		"SchemaVersion": promptSchemaVersion,
		"Domain":        string(domain),
		"Addendum":      contextAddendum(question),
	})
	if err != nil {
		return PromptContext{}, fmt.Errorf("failed to render system core: %w", err)
	}

	fewShots := fewShotsBlock(selected)
	fnIndex := functionIndexBlock(domainCtx.Functions)
	capsule := strings.TrimSpace(domainCtx.Capsule)

	var section string
	stage := StageNone
	if slim {
		stage = StageSlim
		section = fmt.Sprintf("\n\nFewShot (slim domain=%s):\n%s", domain, firstBlock(fewShots))
	} else {
		section = fmt.Sprintf(
			"\n\nFewShotsSelected (%d):\n%s\n\nFunctionSignatures (%d detected):\n%s\n\nCapsuleSummaryExcerpt:\n%s",
			len(selected), fewShots, len(domainCtx.Functions), truncateRunes(fnIndex, initialFunctionCap),
			truncateRunes(capsule, initialCapsuleCap))
	}

	tokens := countTokens(core + section)
	if tokens > budget && !slim {
		stage = StageCapsuleRemoved
		section = fmt.Sprintf(
			"\n\nFewShotsSelected (%d):\n%s\n\nFunctionSignatures (%d detected):\n%s",
			len(selected), fewShots, len(domainCtx.Functions), truncateRunes(fnIndex, stageOneFunctionCap))
		tokens = countTokens(core + section)
	}
	if tokens > budget && !slim {
		stage = StageFunctionsTrunced
		section = fmt.Sprintf(
			"\n\nFewShotsSelected (%d):\n%s\n\nFunctionSignatures (%d detected, truncated):\n%s",
			len(selected), fewShots, len(domainCtx.Functions), truncateRunes(fnIndex, stageTwoFunctionCap))
		tokens = countTokens(core + section)
	}
	if tokens > budget && !slim {
		stage = StageFewShotsTrunced
		section = fmt.Sprintf(
			"\n\nFewShotPrimary (%d total, truncated to 1):\n%s\n\nFunctionSignatures (%d detected, truncated):\n%s",
			len(selected), firstBlock(fewShots), len(domainCtx.Functions), truncateRunes(fnIndex, stageThreeFnCap))
		tokens = countTokens(core + section)
	}

	system := core + section + fmt.Sprintf(
		"\n\n// prompt-meta token_limit=%d tokens=%d stage=%s size_chars=%d",
		budget, tokens, stage, len(core+section))
	system = MaskSecrets(system)

	user := fmt.Sprintf(
		"Question (domain=%s): %s\nReturn ONLY the KQL query using appropriate tables for the %s domain.",
		domain, clarifyQuestion(question), domain)

	return PromptContext{
		System:            system,
		User:              user,
		Selected:          selected,
		TokenCount:        tokens,
		TokenBudget:       budget,
		Stage:             stage,
		SystemHash:        stableHash(core),
		FunctionIndexHash: stableHash(fnIndex),
	}, nil
}

// clarifyQuestion trims and collapses whitespace without rewriting meaning.
func clarifyQuestion(question string) string {
	return strings.Join(strings.Fields(question), " ")
}

func contextAddendum(question string) string {
	qLower := strings.ToLower(question)
	seen := make(map[string]struct{})
	var lines []string
	for _, entry := range keywordContext {
		if !strings.Contains(qLower, entry.keyword) {
			continue
		}
		if _, dup := seen[entry.snippet]; dup {
			continue
		}
		seen[entry.snippet] = struct{}{}
		lines = append(lines, "- "+entry.snippet)
	}
	if len(lines) == 0 {
		return "(No additional context deemed necessary)"
	}
	return strings.Join(lines, "\n")
}

func fewShotsBlock(selected []ScoredExample) string {
	if len(selected) == 0 {
		return "(No examples selected)"
	}
	blocks := make([]string, 0, len(selected))
	for _, s := range selected {
		blocks = append(blocks, fmt.Sprintf("// %s\n%s", s.Question, s.Query))
	}
	return truncateRunes(strings.Join(blocks, "\n\n"), fewShotsCharCap)
}

func firstBlock(fewShots string) string {
	if idx := strings.Index(fewShots, "\n\n"); idx >= 0 {
		return fewShots[:idx]
	}
	return fewShots
}

func functionIndexBlock(functions []FunctionSignature) string {
	if len(functions) == 0 {
		return "(No functions detected)"
	}
	lines := make([]string, 0, len(functions))
	for _, fn := range functions {
		line := "- " + fn.Signature
		if fn.Description != "" {
			line += ": " + truncateRunes(fn.Description, functionDescCharsMax)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func countTokens(text string) int {
	n, err := internal.CountTokens(text)
	if err != nil {
		return internal.ApproxTokens(text)
	}
	return n
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
