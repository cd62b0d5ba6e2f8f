// Package telemetry provides monitoring and cost tracking for research runs.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/deepresearch/config"
)

// Telemetry aggregates run, search, LLM and delivery events.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	mu sync.RWMutex

	// Run metrics
	TotalRuns             int64
	SuccessfulRuns        int64
	FailedRuns            int64
	AverageProcessingTime time.Duration

	// Search metrics
	SearchTasksTotal  int64
	SearchTasksFailed int64
	SearchFailures    map[string]int64 // failure kind -> count

	// LLM metrics
	LLMRequests       map[string]int64 // model -> requests
	LLMTokensUsed     map[string]int64 // model -> tokens
	LLMAverageLatency map[string]time.Duration

	// Delivery metrics
	DeliveriesSent   int64
	DeliveriesFailed int64
}

// CostTracker tracks LLM spend per model and per operation.
type CostTracker struct {
	mu sync.RWMutex

	OperationCosts map[string]float64 // operation -> cost
	ModelCosts     map[string]float64 // model -> cost

	TotalCost   float64
	TotalTokens int64
}

// RunEvent represents a completed research run.
type RunEvent struct {
	RunID          string
	Query          string
	StartTime      time.Time
	EndTime        time.Time
	ProcessingTime time.Duration
	Success        bool
	Error          string
	Cost           float64
	TokensUsed     int64
	ModelsUsed     []string
}

// SearchEvent represents one search task reaching a terminal state.
type SearchEvent struct {
	RunID    string
	Query    string
	Duration time.Duration
	Success  bool
	Failure  string // failure kind when Success is false
}

// LLMUsage represents one completion call.
type LLMUsage struct {
	Model        string
	Operation    string // planning, summarization, synthesis
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Latency      time.Duration
}

// DeliveryEvent represents one attempt to hand off a report.
type DeliveryEvent struct {
	RunID     string
	Recipient string
	Duration  time.Duration
	Success   bool
}

var (
	promRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_runs_total",
		Help: "Research runs by terminal outcome.",
	}, []string{"outcome"})
	promSearchTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_search_tasks_total",
		Help: "Search tasks by terminal status.",
	}, []string{"status"})
	promLLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_llm_tokens_total",
		Help: "LLM tokens consumed, by model and direction.",
	}, []string{"model", "direction"})
	promDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepresearch_deliveries_total",
		Help: "Report deliveries by outcome.",
	}, []string{"outcome"})
)

// NewTelemetry creates a telemetry instance.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	out := log.Writer()
	if cfg.LogFile != "" {
		if f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}
	return &Telemetry{
		config: cfg,
		logger: log.New(out, "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			SearchFailures:    make(map[string]int64),
			LLMRequests:       make(map[string]int64),
			LLMTokensUsed:     make(map[string]int64),
			LLMAverageLatency: make(map[string]time.Duration),
		},
		costTracker: &CostTracker{
			OperationCosts: make(map[string]float64),
			ModelCosts:     make(map[string]float64),
		},
	}
}

// RecordRunEvent records a run reaching Done or Failed.
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}
	// running average
	n := t.metrics.TotalRuns
	t.metrics.AverageProcessingTime = time.Duration(
		(int64(t.metrics.AverageProcessingTime)*(n-1) + int64(event.ProcessingTime)) / n)
	t.metrics.mu.Unlock()

	outcome := "done"
	if !event.Success {
		outcome = "failed"
	}
	promRuns.WithLabelValues(outcome).Inc()

	if t.config.PeriodicLogs {
		t.logger.Printf("run %s finished: success=%t cost=$%.4f tokens=%d in %v",
			event.RunID, event.Success, event.Cost, event.TokensUsed, event.ProcessingTime)
	}
}

// RecordSearchEvent records one search task outcome.
func (t *Telemetry) RecordSearchEvent(ctx context.Context, event SearchEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.SearchTasksTotal++
	if !event.Success {
		t.metrics.SearchTasksFailed++
		t.metrics.SearchFailures[event.Failure]++
	}
	t.metrics.mu.Unlock()

	status := "success"
	if !event.Success {
		status = "failed"
	}
	promSearchTasks.WithLabelValues(status).Inc()
}

// RecordLLMUsage records a completion call's tokens, latency and cost.
func (t *Telemetry) RecordLLMUsage(ctx context.Context, usage LLMUsage) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.LLMRequests[usage.Model]++
	t.metrics.LLMTokensUsed[usage.Model] += usage.InputTokens + usage.OutputTokens
	prev := t.metrics.LLMAverageLatency[usage.Model]
	n := t.metrics.LLMRequests[usage.Model]
	t.metrics.LLMAverageLatency[usage.Model] = time.Duration(
		(int64(prev)*(n-1) + int64(usage.Latency)) / n)
	t.metrics.mu.Unlock()

	promLLMTokens.WithLabelValues(usage.Model, "input").Add(float64(usage.InputTokens))
	promLLMTokens.WithLabelValues(usage.Model, "output").Add(float64(usage.OutputTokens))

	if t.config.CostTracking {
		t.costTracker.mu.Lock()
		t.costTracker.ModelCosts[usage.Model] += usage.Cost
		t.costTracker.OperationCosts[usage.Operation] += usage.Cost
		t.costTracker.TotalCost += usage.Cost
		t.costTracker.TotalTokens += usage.InputTokens + usage.OutputTokens
		t.costTracker.mu.Unlock()
	}
}

// RecordDeliveryEvent records one delivery attempt.
func (t *Telemetry) RecordDeliveryEvent(ctx context.Context, event DeliveryEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	if event.Success {
		t.metrics.DeliveriesSent++
	} else {
		t.metrics.DeliveriesFailed++
	}
	t.metrics.mu.Unlock()

	outcome := "sent"
	if !event.Success {
		outcome = "failed"
	}
	promDeliveries.WithLabelValues(outcome).Inc()
}

// MetricsSnapshot is a copyable view of the current metrics.
type MetricsSnapshot struct {
	TotalRuns             int64
	SuccessfulRuns        int64
	FailedRuns            int64
	AverageProcessingTime time.Duration
	SearchTasksTotal      int64
	SearchTasksFailed     int64
	SearchFailures        map[string]int64
	LLMRequests           map[string]int64
	LLMTokensUsed         map[string]int64
	DeliveriesSent        int64
	DeliveriesFailed      int64
}

// GetMetrics returns a snapshot of the current metrics.
func (t *Telemetry) GetMetrics() MetricsSnapshot {
	t.metrics.mu.RLock()
	defer t.metrics.mu.RUnlock()

	snap := MetricsSnapshot{
		TotalRuns:             t.metrics.TotalRuns,
		SuccessfulRuns:        t.metrics.SuccessfulRuns,
		FailedRuns:            t.metrics.FailedRuns,
		AverageProcessingTime: t.metrics.AverageProcessingTime,
		SearchTasksTotal:      t.metrics.SearchTasksTotal,
		SearchTasksFailed:     t.metrics.SearchTasksFailed,
		SearchFailures:        make(map[string]int64, len(t.metrics.SearchFailures)),
		LLMRequests:           make(map[string]int64, len(t.metrics.LLMRequests)),
		LLMTokensUsed:         make(map[string]int64, len(t.metrics.LLMTokensUsed)),
		DeliveriesSent:        t.metrics.DeliveriesSent,
		DeliveriesFailed:      t.metrics.DeliveriesFailed,
	}
	for k, v := range t.metrics.SearchFailures {
		snap.SearchFailures[k] = v
	}
	for k, v := range t.metrics.LLMRequests {
		snap.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		snap.LLMTokensUsed[k] = v
	}
	return snap
}

// CostSummary is the tracked spend so far.
type CostSummary struct {
	TotalCost      float64
	TotalTokens    int64
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
}

// GetCostSummary returns the tracked spend so far.
func (t *Telemetry) GetCostSummary() CostSummary {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()

	summary := CostSummary{
		TotalCost:      t.costTracker.TotalCost,
		TotalTokens:    t.costTracker.TotalTokens,
		ModelCosts:     make(map[string]float64, len(t.costTracker.ModelCosts)),
		OperationCosts: make(map[string]float64, len(t.costTracker.OperationCosts)),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	for k, v := range t.costTracker.OperationCosts {
		summary.OperationCosts[k] = v
	}
	return summary
}

// String renders a one-line summary for periodic logs.
func (s CostSummary) String() string {
	return fmt.Sprintf("total=$%.4f tokens=%d models=%d", s.TotalCost, s.TotalTokens, len(s.ModelCosts))
}
