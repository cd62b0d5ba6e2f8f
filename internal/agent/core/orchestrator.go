package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
)

var orchestratorTracer trace.Tracer = otel.Tracer("deepresearch/internal/agent/orchestrator")

// Orchestrator drives one research run through the pipeline:
// Planning -> Searching -> Synthesizing -> Delivering -> Done. Search-task
// failures are absorbed between Searching and Synthesizing; failures in any
// other stage terminate the run with a stage-tagged RunError.
type Orchestrator struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	planner    *SearchPlanner
	executor   *ConcurrentSearchExecutor
	writer     *ReportSynthesizer
	dispatcher *DeliveryDispatcher

	runs     RunRepository    // may be nil
	statuses StatusRepository // may be nil

	// Processing state
	processing map[string]*RunStatus
	mu         sync.RWMutex

	// Concurrency control
	semaphore chan struct{}
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry,
	planner *SearchPlanner, executor *ConcurrentSearchExecutor, writer *ReportSynthesizer,
	dispatcher *DeliveryDispatcher, runs RunRepository, statuses StatusRepository) *Orchestrator {
	maxRuns := cfg.Research.MaxConcurrentRuns
	if maxRuns < 1 {
		maxRuns = 1
	}
	return &Orchestrator{
		config:     cfg,
		logger:     logger,
		telemetry:  tele,
		planner:    planner,
		executor:   executor,
		writer:     writer,
		dispatcher: dispatcher,
		runs:       runs,
		statuses:   statuses,
		processing: make(map[string]*RunStatus),
		semaphore:  make(chan struct{}, maxRuns),
	}
}

// Research executes one full run. It returns the terminal RunResult on
// success; on failure the error is a RunError carrying the failed stage and
// the originating cause.
func (o *Orchestrator) Research(ctx context.Context, req ResearchRequest) (RunResult, error) {
	startTime := time.Now()
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = startTime
	}
	recipient := req.Recipient
	if recipient == "" {
		recipient = o.config.Email.Recipient
	}

	ctx, span := orchestratorTracer.Start(ctx, "research.run",
		trace.WithAttributes(
			attribute.String("run.id", req.ID),
			attribute.String("run.query", req.Query),
		))
	defer span.End()

	status := &RunStatus{
		RunID:       req.ID,
		State:       StatePending,
		CreatedAt:   startTime,
		LastUpdated: startTime,
	}
	o.mu.Lock()
	o.processing[req.ID] = status
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.processing, req.ID)
		o.mu.Unlock()
	}()

	// Admission control
	select {
	case o.semaphore <- struct{}{}:
		defer func() { <-o.semaphore }()
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}

	if o.runs != nil {
		if err := o.runs.CreateRun(ctx, req); err != nil {
			o.logger.Printf("warn: persisting run failed: %v", err)
		}
	}

	runEvent := telemetry.RunEvent{RunID: req.ID, Query: req.Query, StartTime: startTime}
	defer func() {
		runEvent.EndTime = time.Now()
		runEvent.ProcessingTime = runEvent.EndTime.Sub(runEvent.StartTime)
		o.telemetry.RecordRunEvent(ctx, runEvent)
	}()

	o.logger.Printf("starting research run %s: %q", req.ID, req.Query)

	// Phase 1: Planning
	o.updateStatus(ctx, status, StatePlanning, 0.1, "planning searches")
	planCtx, planSpan := orchestratorTracer.Start(ctx, "research.plan")
	plan, err := o.planner.Plan(planCtx, req.Query, o.config.Research.TargetSearchCount)
	if err != nil {
		planSpan.RecordError(err)
		planSpan.SetStatus(codes.Error, err.Error())
		planSpan.End()
		return RunResult{}, o.fail(ctx, span, status, &runEvent, StagePlanning, err)
	}
	planSpan.SetAttributes(attribute.Int("plan.task_count", len(plan.Tasks)))
	planSpan.SetStatus(codes.Ok, "completed")
	planSpan.End()
	span.AddEvent("plan.complete", trace.WithAttributes(attribute.Int("plan.task_count", len(plan.Tasks))))

	// Phase 2: Searching (fan-out/fan-in; failures captured per task)
	o.mu.Lock()
	status.TotalTasks = len(plan.Tasks)
	o.mu.Unlock()
	o.updateStatus(ctx, status, StateSearching, 0.3, "executing searches")
	searchCtx, searchSpan := orchestratorTracer.Start(ctx, "research.search")
	outcomes := o.executor.Execute(searchCtx, plan)
	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Succeeded() {
			succeeded++
		}
	}
	o.mu.Lock()
	status.CompletedTasks = succeeded
	o.mu.Unlock()
	searchSpan.SetAttributes(
		attribute.Int("search.succeeded", succeeded),
		attribute.Int("search.failed", len(outcomes)-succeeded),
	)
	searchSpan.End()
	if o.runs != nil {
		if err := o.runs.SaveOutcomes(ctx, req.ID, outcomes); err != nil {
			o.logger.Printf("warn: persisting outcomes failed: %v", err)
		}
	}
	if o.config.Research.RequireAllSearches && succeeded < len(outcomes) {
		err := fmt.Errorf("%d of %d searches failed and a full sweep is required", len(outcomes)-succeeded, len(outcomes))
		return RunResult{}, o.fail(ctx, span, status, &runEvent, StageSearching, err)
	}

	// Phase 3: Synthesizing
	o.updateStatus(ctx, status, StateSynthesizing, 0.7, "synthesizing report")
	synthCtx, synthSpan := orchestratorTracer.Start(ctx, "research.synthesize")
	draft, err := o.writer.Synthesize(synthCtx, req.Query, outcomes)
	if err != nil {
		synthSpan.RecordError(err)
		synthSpan.SetStatus(codes.Error, err.Error())
		synthSpan.End()
		return RunResult{}, o.fail(ctx, span, status, &runEvent, StageSynthesizing, err)
	}
	synthSpan.SetStatus(codes.Ok, "completed")
	synthSpan.End()
	if o.runs != nil {
		if err := o.runs.SaveReport(ctx, req.ID, draft); err != nil {
			o.logger.Printf("warn: persisting report failed: %v", err)
		}
	}

	// Phase 4: Delivering. This is the only transition that dispatches the
	// report, which keeps delivery at most once per successful synthesis.
	o.updateStatus(ctx, status, StateDelivering, 0.9, "delivering report")
	deliverCtx, deliverSpan := orchestratorTracer.Start(ctx, "research.deliver")
	receipt, err := o.dispatcher.Deliver(deliverCtx, draft, recipient)
	if err != nil {
		deliverSpan.RecordError(err)
		deliverSpan.SetStatus(codes.Error, err.Error())
		deliverSpan.End()
		return RunResult{}, o.fail(ctx, span, status, &runEvent, StageDelivering, err)
	}
	deliverSpan.SetStatus(codes.Ok, "completed")
	deliverSpan.End()
	if o.runs != nil {
		if err := o.runs.SaveReceipt(ctx, req.ID, receipt); err != nil {
			o.logger.Printf("warn: persisting receipt failed: %v", err)
		}
		if err := o.runs.SetRunState(ctx, req.ID, StateDone); err != nil {
			o.logger.Printf("warn: persisting run state failed: %v", err)
		}
	}

	o.updateStatus(ctx, status, StateDone, 1.0, "research completed")

	costSummary := o.telemetry.GetCostSummary()
	runEvent.Success = true
	runEvent.Cost = costSummary.TotalCost
	runEvent.TokensUsed = costSummary.TotalTokens

	result := RunResult{
		RunID:          req.ID,
		Query:          req.Query,
		Plan:           plan,
		Outcomes:       outcomes,
		Draft:          draft,
		Receipt:        receipt,
		ProcessingTime: time.Since(startTime),
		CostEstimate:   costSummary.TotalCost,
		TokensUsed:     costSummary.TotalTokens,
		ModelsUsed:     modelsUsed(o.config),
		CreatedAt:      time.Now(),
	}

	o.logger.Printf("completed research run %s in %v", req.ID, time.Since(startTime))
	span.SetStatus(codes.Ok, "completed")
	return result, nil
}

// fail records the terminal failure everywhere it must be visible: run
// status, persistence, telemetry and the returned RunError.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, status *RunStatus, event *telemetry.RunEvent, stage Stage, cause error) error {
	runErr := RunError{Stage: stage, Err: cause}

	o.updateStatus(ctx, status, StateFailed, status.Progress, runErr.Error())

	event.Success = false
	event.Error = runErr.Error()

	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())

	if o.runs != nil {
		if err := o.runs.MarkRunFailed(ctx, status.RunID, stage, runErr.FailureCause()); err != nil {
			o.logger.Printf("warn: persisting failure failed: %v", err)
		}
	}

	o.logger.Printf("%v", runErr)
	return runErr
}

// updateStatus updates the in-memory status and publishes it when a status
// repository is attached.
func (o *Orchestrator) updateStatus(ctx context.Context, status *RunStatus, state RunState, progress float64, message string) {
	o.mu.Lock()
	status.State = state
	status.Progress = progress
	status.Message = message
	status.LastUpdated = time.Now()
	snapshot := *status
	o.mu.Unlock()

	if o.statuses != nil {
		if err := o.statuses.Publish(ctx, snapshot); err != nil {
			o.logger.Printf("warn: publishing status failed: %v", err)
		}
	}
}

// GetStatus returns the live status of an in-flight run.
func (o *Orchestrator) GetStatus(runID string) (RunStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status, exists := o.processing[runID]
	if !exists {
		return RunStatus{}, fmt.Errorf("run not found: %s", runID)
	}
	return *status, nil
}

// IsRunError reports whether err is a run-level failure and returns it.
func IsRunError(err error) (RunError, bool) {
	var runErr RunError
	ok := errors.As(err, &runErr)
	return runErr, ok
}

func modelsUsed(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var models []string
	for _, m := range []string{cfg.LLM.Routing.Planning, cfg.LLM.Routing.Summarization, cfg.LLM.Routing.Synthesis} {
		if m != "" && !seen[m] {
			seen[m] = true
			models = append(models, m)
		}
	}
	return models
}
