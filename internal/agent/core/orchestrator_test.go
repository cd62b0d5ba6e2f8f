package core

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/tools/email"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search"
)

func newTestOrchestrator(cfg *config.Config, llm LLMProvider, searcher web_search.WebSearcher, sender email.Sender, runs RunRepository) *Orchestrator {
	tele := testTelemetry()
	return NewOrchestrator(cfg,
		log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		tele,
		NewSearchPlanner(cfg, llm, tele),
		NewConcurrentSearchExecutor(cfg, llm, searcher, tele),
		NewReportSynthesizer(cfg, llm, tele),
		NewDeliveryDispatcher(cfg, sender, tele),
		runs, nil)
}

// pipelineLLM answers the planner on the first call, the writer when the
// prompt asks for a report, and the summarizer otherwise.
func pipelineLLM() *fakeLLM {
	return &fakeLLM{generate: func(call int, prompt, model string) (string, error) {
		switch {
		case strings.Contains(prompt, "web searches to perform"):
			return validPlanJSON, nil
		case strings.Contains(prompt, "cohesive report"):
			return validReportJSON, nil
		default:
			return "a search summary", nil
		}
	}}
}

func TestResearchHappyPathEndsDoneWithReceipt(t *testing.T) {
	repo := newFakeRunRepo()
	sender := &fakeSender{}
	orch := newTestOrchestrator(testConfig(), pipelineLLM(), &fakeSearcher{}, sender, repo)

	result, err := orch.Research(context.Background(), ResearchRequest{Query: "solid state batteries"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RunID == "" {
		t.Fatalf("expected a generated run id")
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(result.Outcomes))
	}
	if !result.Receipt.Delivered || result.Receipt.Recipient != "reader@example.com" {
		t.Fatalf("unexpected receipt: %#v", result.Receipt)
	}
	if sender.sentCount() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", sender.sentCount())
	}
	if repo.states[result.RunID] != StateDone {
		t.Fatalf("expected run persisted as done, got %s", repo.states[result.RunID])
	}
	if _, ok := repo.receipts[result.RunID]; !ok {
		t.Fatalf("expected persisted receipt")
	}
}

func TestResearchSurvivesPartialSearchFailure(t *testing.T) {
	repo := newFakeRunRepo()
	searcher := &fakeSearcher{errs: map[string]error{"beta": errors.New("search down")}}
	orch := newTestOrchestrator(testConfig(), pipelineLLM(), searcher, &fakeSender{}, repo)

	result, err := orch.Research(context.Background(), ResearchRequest{Query: "a query"})
	if err != nil {
		t.Fatalf("a single failed search must not fail the run: %v", err)
	}
	failed := 0
	for _, o := range result.Outcomes {
		if !o.Succeeded() {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed outcome, got %d", failed)
	}
	if !result.Receipt.Delivered {
		t.Fatalf("run should still deliver")
	}
}

func TestResearchFailsWhenAllSearchesFail(t *testing.T) {
	repo := newFakeRunRepo()
	searcher := &fakeSearcher{errs: map[string]error{
		"alpha": errors.New("down"),
		"beta":  errors.New("down"),
		"gamma": errors.New("down"),
	}}
	sender := &fakeSender{}
	orch := newTestOrchestrator(testConfig(), pipelineLLM(), searcher, sender, repo)

	req := ResearchRequest{ID: "run-allfail", Query: "a query"}
	_, err := orch.Research(context.Background(), req)
	runErr, ok := IsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Stage != StageSynthesizing {
		t.Fatalf("expected synthesizing stage, got %s", runErr.Stage)
	}
	var synthErr SynthesisError
	if !errors.As(err, &synthErr) || synthErr.Cause != SynthesisNoUsableInput {
		t.Fatalf("expected no_usable_input cause, got %v", err)
	}
	if sender.sentCount() != 0 {
		t.Fatalf("nothing must be delivered for a failed run")
	}
	if repo.states["run-allfail"] != StateFailed {
		t.Fatalf("expected run persisted as failed")
	}
	if !strings.Contains(repo.failures["run-allfail"], "no_usable_input") {
		t.Fatalf("persisted failure should carry the cause: %s", repo.failures["run-allfail"])
	}
}

func TestResearchFailsWhenDeliveryRejected(t *testing.T) {
	repo := newFakeRunRepo()
	sender := &fakeSender{err: email.ErrRejected}
	orch := newTestOrchestrator(testConfig(), pipelineLLM(), &fakeSearcher{}, sender, repo)

	req := ResearchRequest{ID: "run-rejected", Query: "a query"}
	_, err := orch.Research(context.Background(), req)
	runErr, ok := IsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Stage != StageDelivering {
		t.Fatalf("expected delivering stage, got %s", runErr.Stage)
	}
	var delErr DeliveryError
	if !errors.As(err, &delErr) || delErr.Cause != DeliveryRejected {
		t.Fatalf("expected delivery_rejected cause, got %v", err)
	}
	if _, ok := repo.receipts["run-rejected"]; ok {
		t.Fatalf("no receipt may exist for a failed delivery")
	}
	// report was synthesized before delivery failed and stays persisted
	if _, ok := repo.reports["run-rejected"]; !ok {
		t.Fatalf("expected the synthesized report to be persisted")
	}
}

func TestResearchFailsFastOnMalformedPlan(t *testing.T) {
	repo := newFakeRunRepo()
	llm := &fakeLLM{generate: func(call int, prompt, model string) (string, error) {
		return "not json at all", nil
	}}
	searcher := &fakeSearcher{}
	orch := newTestOrchestrator(testConfig(), llm, searcher, &fakeSender{}, repo)

	_, err := orch.Research(context.Background(), ResearchRequest{ID: "run-badplan", Query: "a query"})
	runErr, ok := IsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Stage != StagePlanning {
		t.Fatalf("expected planning stage, got %s", runErr.Stage)
	}
	if !strings.Contains(repo.failures["run-badplan"], "malformed_plan") {
		t.Fatalf("persisted failure should carry the cause: %s", repo.failures["run-badplan"])
	}
}

func TestResearchRequireAllSearchesAbortsOnAnyFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Research.RequireAllSearches = true

	searcher := &fakeSearcher{errs: map[string]error{"beta": errors.New("down")}}
	sender := &fakeSender{}
	orch := newTestOrchestrator(cfg, pipelineLLM(), searcher, sender, newFakeRunRepo())

	_, err := orch.Research(context.Background(), ResearchRequest{Query: "a query"})
	runErr, ok := IsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Stage != StageSearching {
		t.Fatalf("expected searching stage, got %s", runErr.Stage)
	}
	if sender.sentCount() != 0 {
		t.Fatalf("nothing must be delivered when the sweep is aborted")
	}
}

func TestResearchUsesRequestRecipientOverride(t *testing.T) {
	sender := &fakeSender{}
	orch := newTestOrchestrator(testConfig(), pipelineLLM(), &fakeSearcher{}, sender, nil)

	result, err := orch.Research(context.Background(), ResearchRequest{
		Query:     "a query",
		Recipient: "override@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Receipt.Recipient != "override@example.com" {
		t.Fatalf("expected recipient override, got %s", result.Receipt.Recipient)
	}
}

func TestGetStatusDuringAndAfterRun(t *testing.T) {
	orch := newTestOrchestrator(testConfig(), pipelineLLM(), &fakeSearcher{}, &fakeSender{}, nil)

	result, err := orch.Research(context.Background(), ResearchRequest{Query: "a query"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// runs are evicted from the live map once terminal
	if _, err := orch.GetStatus(result.RunID); err == nil {
		t.Fatalf("expected unknown run after completion")
	}
}

func TestGetStatusConcurrentWithFailingRuns(t *testing.T) {
	known := map[RunState]bool{
		StatePending: true, StatePlanning: true, StateSearching: true,
		StateSynthesizing: true, StateDelivering: true, StateDone: true,
		StateFailed: true,
	}

	for i := 0; i < 20; i++ {
		searcher := &fakeSearcher{delay: time.Millisecond}
		sender := &fakeSender{err: email.ErrRejected}
		orch := newTestOrchestrator(testConfig(), pipelineLLM(), searcher, sender, nil)

		req := ResearchRequest{ID: "concurrent-status-run", Query: "a query"}
		done := make(chan error, 1)
		go func() {
			_, err := orch.Research(context.Background(), req)
			done <- err
		}()

		for {
			select {
			case err := <-done:
				runErr, ok := IsRunError(err)
				if !ok || runErr.Stage != StageDelivering {
					t.Fatalf("expected delivery failure, got %v", err)
				}
			case <-time.After(10 * time.Microsecond):
				if st, err := orch.GetStatus(req.ID); err == nil && !known[st.State] {
					t.Fatalf("observed invalid run state %q", st.State)
				}
				continue
			}
			break
		}
	}
}
