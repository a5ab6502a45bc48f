package nl2kql

import (
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ParseExamples extracts worked question/query pairs from a reference corpus
// in either of the two supported layouts.
//
// The markdown layout pairs a bold-emphasized question line with the next
// fenced kql code block. The legacy layout pairs a "Q:" prefixed line with a
// "KQL:" prefixed block terminated by a blank line before the next "Q:".
// Markdown wins when both layouts are mixed in one file, and malformed
// blocks (missing fence, missing query body) are skipped rather than
// reported.
func ParseExamples(data []byte) []Example {
	if examples := parseMarkdownExamples(data); len(examples) > 0 {
		return examples
	}
	return parseLegacyExamples(data)
}

// LoadExamples reads and parses a corpus file, consulting the cache (when
// provided) keyed by the file's content hash. A missing file yields an empty
// corpus, matching the treatment of reference files as a swappable input.
func LoadExamples(path string, cache CorpusCache) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}

	sum := xxhash.Sum64(data)
	if cache != nil {
		if examples, ok, err := cache.Examples(path, sum); err == nil && ok {
			return examples, nil
		}
	}

	examples := ParseExamples(data)
	if cache != nil {
		if err := cache.PutExamples(path, sum, examples); err != nil {
			return examples, nil //nolint:nilerr // cache writes are best-effort
		}
	}
	return examples, nil
}

func parseMarkdownExamples(source []byte) []Example {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var examples []Example
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		question, ok := boldQuestion(node, source)
		if !ok {
			continue
		}

		// Advance to the kql fence belonging to this question, stopping at
		// the next question so an example without a fence is skipped.
		for sibling := node.NextSibling(); sibling != nil; sibling = sibling.NextSibling() {
			if _, next := boldQuestion(sibling, source); next {
				break
			}
			fence, isFence := sibling.(*ast.FencedCodeBlock)
			if !isFence {
				continue
			}
			if !strings.EqualFold(string(fence.Language(source)), "kql") {
				continue
			}
			examples = append(examples, Example{
				Question: question,
				Query:    strings.TrimSpace(fencedText(fence, source)),
			})
			break
		}
	}
	return examples
}

// boldQuestion reports whether the node is a paragraph consisting solely of a
// bold span, returning the span's text as the question.
func boldQuestion(node ast.Node, source []byte) (string, bool) {
	para, ok := node.(*ast.Paragraph)
	if !ok || para.ChildCount() != 1 {
		return "", false
	}
	emph, ok := para.FirstChild().(*ast.Emphasis)
	if !ok || emph.Level < 2 {
		return "", false
	}
	question := strings.TrimSpace(nodeText(emph, source))
	return question, question != ""
}

func nodeText(node ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

func fencedText(fence *ast.FencedCodeBlock, source []byte) string {
	var sb strings.Builder
	lines := fence.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		sb.Write(segment.Value(source))
	}
	return sb.String()
}

func parseLegacyExamples(data []byte) []Example {
	lines := strings.Split(string(data), "\n")

	var examples []Example
	var question string
	var queryLines []string
	collecting := false

	flush := func() {
		if question != "" && len(queryLines) > 0 {
			examples = append(examples, Example{
				Question: question,
				Query:    strings.TrimSpace(strings.Join(queryLines, "\n")),
			})
		}
	}

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		lower := strings.ToLower(stripped)
		switch {
		case strings.HasPrefix(lower, "q:"):
			flush()
			question = strings.TrimSpace(stripped[2:])
			queryLines = nil
			collecting = false
		case strings.HasPrefix(lower, "kql:"):
			collecting = true
		case collecting:
			if stripped == "" && i+1 < len(lines) &&
				strings.HasPrefix(strings.ToLower(strings.TrimSpace(lines[i+1])), "q:") {
				collecting = false
				continue
			}
			queryLines = append(queryLines, line)
		}
	}
	flush()

	return examples
}
