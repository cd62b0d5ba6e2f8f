package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	core "github.com/mohammad-safakhou/deepresearch/internal/agent/core"
)

// testStore connects to the database named by DATABASE_URL, or skips.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewWithDSN(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

func TestRunLifecyclePersistence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	req := core.ResearchRequest{
		ID:        uuid.New().String(),
		Query:     "persistence test query",
		Recipient: "reader@example.com",
		CreatedAt: time.Now(),
	}
	if err := s.CreateRun(ctx, req); err != nil {
		t.Fatalf("create run: %v", err)
	}

	run, ok, err := s.GetRun(ctx, req.ID)
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if run.State != core.StatePending || run.Query != req.Query {
		t.Fatalf("unexpected run row: %#v", run)
	}

	outcomes := []core.SearchOutcome{
		{Task: core.SearchTask{Query: "alpha", Rationale: "r"}, Status: core.OutcomeSuccess, Summary: "sum"},
		{Task: core.SearchTask{Query: "beta", Rationale: "r"}, Status: core.OutcomeFailed, ErrorDetail: "search_unavailable: down"},
	}
	if err := s.SaveOutcomes(ctx, req.ID, outcomes); err != nil {
		t.Fatalf("save outcomes: %v", err)
	}
	got, err := s.GetOutcomes(ctx, req.ID)
	if err != nil {
		t.Fatalf("get outcomes: %v", err)
	}
	if len(got) != 2 || got[0].Task.Query != "alpha" || got[1].Status != core.OutcomeFailed {
		t.Fatalf("outcomes out of order or lossy: %#v", got)
	}

	draft := core.ReportDraft{
		ShortSummary:      "brief",
		MarkdownBody:      "# Report",
		FollowUpQuestions: []string{"next"},
	}
	if err := s.SaveReport(ctx, req.ID, draft); err != nil {
		t.Fatalf("save report: %v", err)
	}
	gotDraft, ok, err := s.GetReport(ctx, req.ID)
	if err != nil || !ok {
		t.Fatalf("get report: ok=%t err=%v", ok, err)
	}
	if gotDraft.ShortSummary != "brief" || len(gotDraft.FollowUpQuestions) != 1 {
		t.Fatalf("report lossy: %#v", gotDraft)
	}

	receipt := core.DeliveryReceipt{Delivered: true, Recipient: req.Recipient, Timestamp: time.Now()}
	if err := s.SaveReceipt(ctx, req.ID, receipt); err != nil {
		t.Fatalf("save receipt: %v", err)
	}
	// second save must not create a second receipt
	if err := s.SaveReceipt(ctx, req.ID, receipt); err != nil {
		t.Fatalf("save receipt twice: %v", err)
	}
	gotReceipt, ok, err := s.GetReceipt(ctx, req.ID)
	if err != nil || !ok {
		t.Fatalf("get receipt: ok=%t err=%v", ok, err)
	}
	if !gotReceipt.Delivered || gotReceipt.Recipient != req.Recipient {
		t.Fatalf("receipt lossy: %#v", gotReceipt)
	}

	if err := s.SetRunState(ctx, req.ID, core.StateDone); err != nil {
		t.Fatalf("set state: %v", err)
	}
	run, _, _ = s.GetRun(ctx, req.ID)
	if run.State != core.StateDone {
		t.Fatalf("expected done state, got %s", run.State)
	}
}

func TestMarkRunFailedRecordsStageAndCause(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	req := core.ResearchRequest{ID: uuid.New().String(), Query: "q", CreatedAt: time.Now()}
	if err := s.CreateRun(ctx, req); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.MarkRunFailed(ctx, req.ID, core.StageSynthesizing, "no_usable_input"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	run, _, err := s.GetRun(ctx, req.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.State != core.StateFailed {
		t.Fatalf("expected failed state, got %s", run.State)
	}
	if run.FailureStage.String != "synthesizing" || run.FailureCause.String != "no_usable_input" {
		t.Fatalf("failure not recorded: %#v", run)
	}
}

func TestStateUpdateOnUnknownRun(t *testing.T) {
	s := testStore(t)
	if err := s.SetRunState(context.Background(), "no-such-run", core.StateDone); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}
