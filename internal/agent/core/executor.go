package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search"
)

var executorTracer trace.Tracer = otel.Tracer("deepresearch/internal/agent/executor")

// ConcurrentSearchExecutor runs a plan's search tasks concurrently. Every
// task reaches a terminal outcome; a failing task never cancels its
// siblings, and outcomes come back in plan order regardless of completion
// order.
type ConcurrentSearchExecutor struct {
	config      *config.Config
	llmProvider LLMProvider
	searcher    web_search.WebSearcher
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewConcurrentSearchExecutor creates a new executor instance
func NewConcurrentSearchExecutor(cfg *config.Config, llmProvider LLMProvider, searcher web_search.WebSearcher, tele *telemetry.Telemetry) *ConcurrentSearchExecutor {
	return &ConcurrentSearchExecutor{
		config:      cfg,
		llmProvider: llmProvider,
		searcher:    searcher,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// Execute fans the plan's tasks out over a bounded worker pool and waits for
// all of them. The returned slice always has len(plan.Tasks) entries in plan
// order; deciding what to do with an all-failed sweep is the caller's job.
func (e *ConcurrentSearchExecutor) Execute(ctx context.Context, plan SearchPlan) []SearchOutcome {
	outcomes := make([]SearchOutcome, len(plan.Tasks))
	if len(plan.Tasks) == 0 {
		return outcomes
	}

	workers := e.config.Research.MaxConcurrentSearches
	if workers <= 0 || workers > len(plan.Tasks) {
		workers = len(plan.Tasks)
	}
	semaphore := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, task := range plan.Tasks {
		wg.Add(1)
		go func(idx int, t SearchTask) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			outcomes[idx] = e.runTask(ctx, t)
		}(i, task)
	}
	wg.Wait()

	return outcomes
}

// runTask performs one search plus summarization. Any error is captured in
// the outcome, tagged with the failure kind.
func (e *ConcurrentSearchExecutor) runTask(ctx context.Context, task SearchTask) SearchOutcome {
	startTime := time.Now()
	ctx, span := executorTracer.Start(ctx, "search.task",
		trace.WithAttributes(attribute.String("search.query", task.Query)))
	defer span.End()

	summary, failure, err := e.searchAndSummarize(ctx, task)
	e.telemetry.RecordSearchEvent(ctx, telemetry.SearchEvent{
		Query:    task.Query,
		Duration: time.Since(startTime),
		Success:  err == nil,
		Failure:  string(failure),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Printf("search %q failed: %v", task.Query, err)
		return SearchOutcome{
			Task:        task,
			Status:      OutcomeFailed,
			ErrorDetail: fmt.Sprintf("%s: %v", failure, err),
		}
	}

	span.SetStatus(codes.Ok, "completed")
	e.logger.Printf("completed search %q in %v", task.Query, time.Since(startTime))
	return SearchOutcome{Task: task, Status: OutcomeSuccess, Summary: summary}
}

func (e *ConcurrentSearchExecutor) searchAndSummarize(ctx context.Context, task SearchTask) (string, TaskFailure, error) {
	contextSize := web_search.ContextSize(e.config.Research.SearchContextSize)
	results, err := e.searcher.Search(ctx, task.Query, contextSize)
	if err != nil {
		return "", TaskSearchUnavailable, err
	}
	if len(results) == 0 {
		return "", TaskSearchUnavailable, errors.New("search returned no results")
	}

	model := e.config.LLM.Routing.Summarization
	prompt := e.createSummaryPrompt(task, web_search.FormatResults(results))

	llmStart := time.Now()
	response, inTokens, outTokens, err := e.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.3,
	})
	if err != nil {
		return "", TaskSummarizationFailed, err
	}
	e.telemetry.RecordLLMUsage(ctx, telemetry.LLMUsage{
		Model:        model,
		Operation:    "summarization",
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Cost:         e.llmProvider.CalculateCost(inTokens, outTokens, model),
		Latency:      time.Since(llmStart),
	})

	summary := strings.TrimSpace(response)
	if summary == "" {
		return "", TaskMalformedSummary, errors.New("summarization returned empty text")
	}
	return summary, "", nil
}

func (e *ConcurrentSearchExecutor) createSummaryPrompt(task SearchTask, resultText string) string {
	return fmt.Sprintf(`You are a research assistant. Given a search term and raw web search results, produce a concise summary of the results. The summary must be 2-3 paragraphs and less than 300 words. Capture the main points. Write succinctly, no need to have complete sentences or good grammar. This will be consumed by someone synthesizing a report, so it's vital you capture the essence and ignore any fluff. Do not include any additional commentary other than the summary itself.

SEARCH TERM: %s
REASON FOR SEARCHING: %s

SEARCH RESULTS:
%s`, task.Query, task.Rationale, resultText)
}
