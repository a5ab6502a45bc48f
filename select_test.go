package nl2kql_test

import (
	"testing"

	nl2kql "github.com/soundprediction/go-nl2kql"
)

func selectorCorpus() []nl2kql.Example {
	return []nl2kql.Example{
		{Question: "List all tables", Query: "search * | distinct $table"},
		{Question: "Show failing pods in the default namespace", Query: "KubePodInventory | where PodStatus == 'Failed'"},
		{Question: "What is the average workload latency per service?", Query: "AppRequests | summarize avg(DurationMs) by Name"},
		{Question: "Count container restarts by pod name", Query: "KubePodInventory | summarize max(ContainerRestartCount) by Name"},
	}
}

func TestSelectExamplesRanksByTokenOverlap(t *testing.T) {
	selected := nl2kql.SelectExamples("show failing pods", selectorCorpus(), nil, 2)
	if len(selected) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(selected))
	}
	if selected[0].Index != 1 {
		t.Errorf("expected the pod example first, got index %d", selected[0].Index)
	}
	if selected[0].Heuristic <= selected[1].Heuristic {
		t.Errorf("expected strictly descending heuristic, got %d then %d",
			selected[0].Heuristic, selected[1].Heuristic)
	}
}

func TestSelectExamplesCorrectsTypos(t *testing.T) {
	selected := nl2kql.SelectExamples("calcualte the workload latncy", selectorCorpus(), nil, 1)
	if len(selected) != 1 {
		t.Fatalf("expected 1 selection, got %d", len(selected))
	}
	if selected[0].Index != 2 {
		t.Errorf("typo-corrected tokens should match the latency example, got index %d", selected[0].Index)
	}
}

func TestSelectExamplesCoOccurrenceBonus(t *testing.T) {
	corpus := []nl2kql.Example{
		{Question: "latency of the api", Query: "a"},
		{Question: "workload latency summary", Query: "b"},
	}
	selected := nl2kql.SelectExamples("workload latency today", corpus, nil, 2)
	if selected[0].Index != 1 {
		t.Errorf("workload+latency co-occurrence should outrank a single overlap, got index %d", selected[0].Index)
	}
	if got := selected[0].Heuristic - selected[1].Heuristic; got < 1 {
		t.Errorf("expected the co-occurrence example to score higher, got margin %d", got)
	}
}

func TestSelectExamplesBlendsEmbeddingSimilarity(t *testing.T) {
	corpus := selectorCorpus()
	sims := map[int]float64{0: 0.95, 1: 0.10, 2: 0.10, 3: 0.10}
	selected := nl2kql.SelectExamples("enumerate every table available", corpus, sims, 1)
	if len(selected) != 1 {
		t.Fatalf("expected 1 selection, got %d", len(selected))
	}
	if selected[0].Index != 0 {
		t.Errorf("high cosine similarity should promote the table example, got index %d", selected[0].Index)
	}
	if selected[0].Embedding != 0.95 {
		t.Errorf("expected embedding score carried through, got %f", selected[0].Embedding)
	}
}

func TestSelectExamplesFallsBackToCorpusHead(t *testing.T) {
	selected := nl2kql.SelectExamples("zzz qqq xxx", selectorCorpus(), nil, 3)
	if len(selected) != 2 {
		t.Fatalf("expected the 2-example fallback, got %d", len(selected))
	}
	if selected[0].Index != 0 || selected[1].Index != 1 {
		t.Errorf("fallback should take the corpus head in order, got %d then %d",
			selected[0].Index, selected[1].Index)
	}
	if selected[0].Final != 0 {
		t.Errorf("fallback selections carry zero score, got %f", selected[0].Final)
	}
}

func TestSelectExamplesTiesKeepCorpusOrder(t *testing.T) {
	corpus := []nl2kql.Example{
		{Question: "node disk usage", Query: "a"},
		{Question: "node disk pressure", Query: "b"},
	}
	selected := nl2kql.SelectExamples("node disk", corpus, nil, 2)
	if len(selected) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(selected))
	}
	if selected[0].Index != 0 {
		t.Errorf("equal scores should keep corpus order, got index %d first", selected[0].Index)
	}
}

func TestSelectExamplesEmptyInputs(t *testing.T) {
	if got := nl2kql.SelectExamples("anything", nil, nil, 3); got != nil {
		t.Errorf("expected nil for empty corpus, got %v", got)
	}
	if got := nl2kql.SelectExamples("anything", selectorCorpus(), nil, 0); got != nil {
		t.Errorf("expected nil for zero k, got %v", got)
	}
}
