package handler

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

const (
	containerExamplesFile = "container_logs_kql_examples.md"
	containerFewshotsFile = "fewshots_containerlogs.txt"
	containerCapsuleFile  = "domain_capsule_containerlogs.txt"
	containerFunctionFile = "kql_functions_containerlogs.kql"
)

// Containers loads the container log domain: few-shot examples, the domain
// capsule, and the KQL helper function index. Dir is the root holding the
// containers_capsule directory.
type Containers struct {
	Dir   string
	Cache nl2kql.CorpusCache
}

// Context assembles the container domain context. Every reference file is
// optional; a missing file contributes an empty section.
func (c Containers) Context() (nl2kql.DomainContext, error) {
	capsuleDir := filepath.Join(c.Dir, "containers_capsule")

	examples, err := nl2kql.LoadExamples(
		filepath.Join(capsuleDir, "kql_examples", containerExamplesFile), c.Cache)
	if err != nil {
		return nl2kql.DomainContext{}, fmt.Errorf("failed to load container examples: %w", err)
	}
	if len(examples) == 0 {
		// Older layouts keep the examples in a legacy Q:/KQL: file.
		examples, err = nl2kql.LoadExamples(filepath.Join(capsuleDir, containerFewshotsFile), c.Cache)
		if err != nil {
			return nl2kql.DomainContext{}, fmt.Errorf("failed to load container fewshots: %w", err)
		}
	}

	capsule, err := readLimited(filepath.Join(capsuleDir, containerCapsuleFile), defaultCapsuleLimit)
	if err != nil {
		return nl2kql.DomainContext{}, err
	}

	functionsRaw, err := readLimited(filepath.Join(capsuleDir, containerFunctionFile), defaultFunctionsLimit)
	if err != nil {
		return nl2kql.DomainContext{}, err
	}

	return nl2kql.DomainContext{
		Examples:  examples,
		Capsule:   capsule,
		Functions: ParseFunctionSignatures(functionsRaw),
	}, nil
}

var letDeclRe = regexp.MustCompile(`let\s+([A-Za-z0-9_]+)\s*=\s*\((.*?)\)\s*\{`)

const maxSignatureDescChars = 110

// ParseFunctionSignatures extracts `let Name = (params) {` declarations from
// a KQL helper file, keeping only the signature plus a short description
// taken from the contiguous // comment block above the declaration.
// Declarations may span a few lines:
//
//	let ErrorsByWorkload =
//	    (lookback:timespan)
//	    {
func ParseFunctionSignatures(kqlText string) []nl2kql.FunctionSignature {
	lines := strings.Split(kqlText, "\n")

	var signatures []nl2kql.FunctionSignature
	for i := 0; i < len(lines); i++ {
		stripped := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(stripped, "let ") {
			continue
		}

		desc := precedingComment(lines, i)

		// Accumulate the declaration until its opening brace, within a
		// small window so a malformed file cannot swallow everything.
		decl := stripped
		end := i
		for k := i + 1; !strings.Contains(decl, "{") && k < len(lines) && k <= i+5; k++ {
			decl += " " + strings.TrimSpace(lines[k])
			end = k
		}
		decl = strings.Join(strings.Fields(decl), " ")

		if m := letDeclRe.FindStringSubmatch(decl); m != nil {
			signatures = append(signatures, nl2kql.FunctionSignature{
				Signature:   fmt.Sprintf("%s(%s)", m[1], strings.TrimSpace(m[2])),
				Description: desc,
			})
		}
		i = end
	}
	return signatures
}

// precedingComment returns the last non-empty line of the contiguous //
// comment block directly above lines[i], shortened to a summary length.
func precedingComment(lines []string, i int) string {
	var comments []string
	for j := i - 1; j >= 0; j-- {
		prev := strings.TrimSpace(lines[j])
		if !strings.HasPrefix(prev, "//") {
			break
		}
		comments = append(comments, strings.TrimLeft(prev, "/ "))
	}

	for _, c := range comments {
		if strings.TrimSpace(c) == "" {
			continue
		}
		desc := strings.TrimSpace(c)
		if len(desc) > maxSignatureDescChars {
			desc = desc[:maxSignatureDescChars-3] + "..."
		}
		return desc
	}
	return ""
}
