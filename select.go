package nl2kql

import (
	"regexp"
	"sort"
	"strings"
)

// ScoredExample carries a corpus example together with the scores that
// ranked it for a question.
type ScoredExample struct {
	Example

	// Index is the example's position in the corpus, used as the stable
	// tie-breaker.
	Index int

	// Heuristic is the raw lexical score before blending.
	Heuristic int

	// Embedding is the cosine similarity contributed by the vector index,
	// zero when embeddings are unavailable.
	Embedding float64

	// Final is the blended score the ranking is sorted by.
	Final float64
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// typoCorrections maps frequently observed misspellings onto the canonical
// token before scoring.
var typoCorrections = map[string]string{
	"calcualte": "calculate",
	"latncy":    "latency",
}

const (
	substringBonus  = 10
	fuzzyTokenBonus = 1
	coOccurBonus    = 2
)

// heuristicBlendWeight and embeddingBlendWeight combine the normalized
// lexical score with cosine similarity when embeddings are available.
const (
	heuristicBlendWeight = 0.55
	embeddingBlendWeight = 0.45
)

// SelectExamples ranks corpus examples against a question and returns the
// top k by blended score. Only examples with a positive final score are
// returned; when nothing scores positive the first min(2, len(examples))
// examples are used so the prompt is never empty. sims holds optional
// cosine similarities keyed by corpus index and may be nil.
func SelectExamples(question string, examples []Example, sims map[int]float64, k int) []ScoredExample {
	if len(examples) == 0 || k <= 0 {
		return nil
	}

	qLower := strings.ToLower(strings.TrimSpace(question))
	qTokens := tokenize(qLower)

	scored := make([]ScoredExample, 0, len(examples))
	maxHeuristic := 0
	for i, example := range examples {
		h := heuristicScore(qLower, qTokens, example.Question)
		if h > maxHeuristic {
			maxHeuristic = h
		}
		scored = append(scored, ScoredExample{Example: example, Index: i, Heuristic: h})
	}

	for i := range scored {
		hNorm := 0.0
		if maxHeuristic > 0 {
			hNorm = float64(scored[i].Heuristic) / float64(maxHeuristic)
		}
		if sim, ok := sims[scored[i].Index]; ok {
			scored[i].Embedding = sim
			scored[i].Final = heuristicBlendWeight*hNorm + embeddingBlendWeight*sim
		} else {
			scored[i].Final = hNorm
		}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Final != scored[b].Final {
			return scored[a].Final > scored[b].Final
		}
		return scored[a].Index < scored[b].Index
	})

	selected := make([]ScoredExample, 0, k)
	for _, s := range scored {
		if s.Final <= 0 {
			continue
		}
		selected = append(selected, s)
		if len(selected) == k {
			break
		}
	}
	if len(selected) > 0 {
		return selected
	}

	// Nothing matched lexically or semantically. Fall back to the head of
	// the corpus, which holds the most general examples.
	n := 2
	if len(examples) < n {
		n = len(examples)
	}
	fallback := make([]ScoredExample, 0, n)
	for i := 0; i < n; i++ {
		fallback = append(fallback, ScoredExample{Example: examples[i], Index: i})
	}
	return fallback
}

func tokenize(lower string) []string {
	raw := tokenRe.FindAllString(lower, -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) < 2 {
			continue
		}
		if fixed, ok := typoCorrections[tok]; ok {
			tok = fixed
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func heuristicScore(qLower string, qTokens []string, exampleQuestion string) int {
	eLower := strings.ToLower(exampleQuestion)
	eTokens := tokenize(eLower)

	score := 0
	if qLower != "" && (strings.Contains(eLower, qLower) || strings.Contains(qLower, eLower)) {
		score += substringBonus
	}

	eSet := make(map[string]struct{}, len(eTokens))
	for _, tok := range eTokens {
		eSet[tok] = struct{}{}
	}
	qSet := make(map[string]struct{}, len(qTokens))
	for _, tok := range qTokens {
		qSet[tok] = struct{}{}
	}

	for tok := range qSet {
		if _, ok := eSet[tok]; ok {
			score++
		}
	}

	// One-time bonus when any question token is a near-miss (or match) of
	// an example token, which rewards misspellings the typo map lacks.
fuzzy:
	for tok := range qSet {
		for other := range eSet {
			if withinEditDistance(tok, other, 2) {
				score += fuzzyTokenBonus
				break fuzzy
			}
		}
	}

	if sharedToken(qSet, eSet, "workload") || sharedToken(qSet, eSet, "latency") {
		score += coOccurBonus
	}
	if hasAny(qSet, "pod", "pods") && hasAny(eSet, "pod", "pods") {
		score += coOccurBonus
	}

	return score
}

func sharedToken(a, b map[string]struct{}, tok string) bool {
	_, inA := a[tok]
	_, inB := b[tok]
	return inA && inB
}

func hasAny(set map[string]struct{}, tokens ...string) bool {
	for _, tok := range tokens {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

// withinEditDistance reports whether the Levenshtein distance between a and
// b is at most limit. Rows outside the band are abandoned early.
func withinEditDistance(a, b string, limit int) bool {
	la, lb := len(a), len(b)
	if la-lb > limit || lb-la > limit {
		return false
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		best := curr[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < best {
				best = curr[j]
			}
		}
		if best > limit {
			return false
		}
		prev, curr = curr, prev
	}
	return prev[lb] <= limit
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
