package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
)

func testPlan() SearchPlan {
	return SearchPlan{Tasks: []SearchTask{
		{Query: "alpha", Rationale: "first"},
		{Query: "beta", Rationale: "second"},
		{Query: "gamma", Rationale: "third"},
	}}
}

func TestExecuteReturnsOutcomePerTaskInPlanOrder(t *testing.T) {
	llm := &fakeLLM{generate: func(call int, prompt, model string) (string, error) {
		for _, q := range []string{"alpha", "beta", "gamma"} {
			if strings.Contains(prompt, "SEARCH TERM: "+q) {
				return "summary for " + q, nil
			}
		}
		return "", errors.New("unexpected prompt")
	}}
	e := NewConcurrentSearchExecutor(testConfig(), llm, &fakeSearcher{}, testTelemetry())

	outcomes := e.Execute(context.Background(), testPlan())
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if outcomes[i].Task.Query != want {
			t.Fatalf("outcome %d out of order: got %s want %s", i, outcomes[i].Task.Query, want)
		}
		if !outcomes[i].Succeeded() {
			t.Fatalf("outcome %d should succeed: %#v", i, outcomes[i])
		}
		if outcomes[i].Summary != "summary for "+want {
			t.Fatalf("outcome %d has wrong summary: %s", i, outcomes[i].Summary)
		}
	}
}

func TestExecuteIsolatesSearchFailure(t *testing.T) {
	llm := &fakeLLM{generate: func(call int, prompt, model string) (string, error) {
		return "a summary", nil
	}}
	searcher := &fakeSearcher{errs: map[string]error{"beta": errors.New("search down")}}
	e := NewConcurrentSearchExecutor(testConfig(), llm, searcher, testTelemetry())

	outcomes := e.Execute(context.Background(), testPlan())
	if outcomes[0].Status != OutcomeSuccess || outcomes[2].Status != OutcomeSuccess {
		t.Fatalf("siblings of a failed task must still succeed: %#v", outcomes)
	}
	if outcomes[1].Status != OutcomeFailed {
		t.Fatalf("expected beta to fail")
	}
	if !strings.Contains(outcomes[1].ErrorDetail, string(TaskSearchUnavailable)) {
		t.Fatalf("failure should carry the search_unavailable kind: %s", outcomes[1].ErrorDetail)
	}
	if outcomes[1].Summary != "" {
		t.Fatalf("failed outcome must not carry a summary")
	}
}

func TestExecuteTreatsZeroResultsAsSearchFailure(t *testing.T) {
	llm := &fakeLLM{generate: func(call int, prompt, model string) (string, error) {
		return "a summary", nil
	}}
	searcher := &fakeSearcher{results: map[string][]models.Result{"alpha": {}}}
	e := NewConcurrentSearchExecutor(testConfig(), llm, searcher, testTelemetry())

	outcomes := e.Execute(context.Background(), SearchPlan{Tasks: []SearchTask{{Query: "alpha"}}})
	if outcomes[0].Status != OutcomeFailed {
		t.Fatalf("expected failure on zero results")
	}
	if !strings.Contains(outcomes[0].ErrorDetail, string(TaskSearchUnavailable)) {
		t.Fatalf("unexpected failure detail: %s", outcomes[0].ErrorDetail)
	}
	if llm.callCount() != 0 {
		t.Fatalf("summarization ran despite zero results")
	}
}

func TestExecuteTagsSummarizationFailure(t *testing.T) {
	llm := &fakeLLM{generate: func(call int, prompt, model string) (string, error) {
		return "", errors.New("llm down")
	}}
	e := NewConcurrentSearchExecutor(testConfig(), llm, &fakeSearcher{}, testTelemetry())

	outcomes := e.Execute(context.Background(), SearchPlan{Tasks: []SearchTask{{Query: "alpha"}}})
	if !strings.Contains(outcomes[0].ErrorDetail, string(TaskSummarizationFailed)) {
		t.Fatalf("unexpected failure detail: %s", outcomes[0].ErrorDetail)
	}
}

func TestExecuteTagsEmptySummaryAsMalformed(t *testing.T) {
	llm := &fakeLLM{generate: func(call int, prompt, model string) (string, error) {
		return "   \n ", nil
	}}
	e := NewConcurrentSearchExecutor(testConfig(), llm, &fakeSearcher{}, testTelemetry())

	outcomes := e.Execute(context.Background(), SearchPlan{Tasks: []SearchTask{{Query: "alpha"}}})
	if !strings.Contains(outcomes[0].ErrorDetail, string(TaskMalformedSummary)) {
		t.Fatalf("unexpected failure detail: %s", outcomes[0].ErrorDetail)
	}
}

func TestExecuteHonoursConcurrencyCap(t *testing.T) {
	cfg := testConfig()
	cfg.Research.MaxConcurrentSearches = 1

	llm := &fakeLLM{generate: func(call int, prompt, model string) (string, error) {
		return "a summary", nil
	}}
	searcher := &fakeSearcher{delay: 20 * time.Millisecond}
	e := NewConcurrentSearchExecutor(cfg, llm, searcher, testTelemetry())

	outcomes := e.Execute(context.Background(), testPlan())
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if searcher.peak > 1 {
		t.Fatalf("concurrency cap exceeded: peak %d", searcher.peak)
	}
}

func TestExecuteEmptyPlan(t *testing.T) {
	e := NewConcurrentSearchExecutor(testConfig(), &fakeLLM{}, &fakeSearcher{}, testTelemetry())
	outcomes := e.Execute(context.Background(), SearchPlan{})
	if len(outcomes) != 0 {
		t.Fatalf("expected no outcomes for an empty plan")
	}
}
