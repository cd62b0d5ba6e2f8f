package core

import (
	"context"
	"strings"
	"time"
)

// ResearchRequest is a user's research query entering the pipeline.
type ResearchRequest struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Recipient string    `json:"recipient,omitempty"` // overrides the configured recipient
	CreatedAt time.Time `json:"created_at"`
}

// SearchTask is one planned web search. Immutable; identity is its position
// in the plan.
type SearchTask struct {
	// Query is the term handed to the web search capability.
	Query string `json:"query"`

	// Rationale explains why this search contributes to the original query.
	Rationale string `json:"rationale"`
}

// SearchPlan is the ordered set of search tasks for one run. Order defines
// priority, not dependency; tasks are independent.
type SearchPlan struct {
	Tasks []SearchTask `json:"tasks"`
}

// OutcomeStatus is the terminal status of one search task.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// SearchOutcome is the terminal result of one search task. Exactly one
// outcome exists per task, success or failure.
type SearchOutcome struct {
	Task        SearchTask    `json:"task"`
	Status      OutcomeStatus `json:"status"`
	Summary     string        `json:"summary,omitempty"`      // present iff Status == OutcomeSuccess
	ErrorDetail string        `json:"error_detail,omitempty"` // present iff Status == OutcomeFailed
}

// Succeeded reports whether the task produced a usable summary.
func (o SearchOutcome) Succeeded() bool { return o.Status == OutcomeSuccess }

// ReportDraft is the structured, validated report produced by synthesis.
type ReportDraft struct {
	ShortSummary      string   `json:"short_summary"`
	MarkdownBody      string   `json:"markdown_body"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// WordCount counts whitespace-separated words in the markdown body.
func (d ReportDraft) WordCount() int { return len(strings.Fields(d.MarkdownBody)) }

// DeliveryReceipt confirms the report was handed to the delivery capability.
// It is terminal: the pipeline ends once a receipt exists.
type DeliveryReceipt struct {
	Delivered bool      `json:"delivered"`
	Recipient string    `json:"recipient"`
	Timestamp time.Time `json:"timestamp"`
}

// RunState is the orchestrator's state machine position for a run.
type RunState string

const (
	StatePending      RunState = "pending"
	StatePlanning     RunState = "planning"
	StateSearching    RunState = "searching"
	StateSynthesizing RunState = "synthesizing"
	StateDelivering   RunState = "delivering"
	StateDone         RunState = "done"
	StateFailed       RunState = "failed"
)

// RunStatus is the live progress of a run.
type RunStatus struct {
	RunID          string    `json:"run_id"`
	State          RunState  `json:"state"`
	Progress       float64   `json:"progress"`
	Message        string    `json:"message,omitempty"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// RunResult is the terminal artifact of a successful run.
type RunResult struct {
	RunID          string          `json:"run_id"`
	Query          string          `json:"query"`
	Plan           SearchPlan      `json:"plan"`
	Outcomes       []SearchOutcome `json:"outcomes"`
	Draft          ReportDraft     `json:"draft"`
	Receipt        DeliveryReceipt `json:"receipt"`
	ProcessingTime time.Duration   `json:"processing_time"`
	CostEstimate   float64         `json:"cost_estimate"`
	TokensUsed     int64           `json:"tokens_used"`
	ModelsUsed     []string        `json:"models_used"`
	CreatedAt      time.Time       `json:"created_at"`
}

// LLMProvider is the completion capability.
type LLMProvider interface {
	// Generate generates text using the LLM
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns input/output token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// GetModelInfo returns information about a specific model
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost for a given number of tokens
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string
	Provider        string
	MaxTokens       int
	CostPer1KInput  float64
	CostPer1KOutput float64
}

// RunRepository persists run records, outcomes and receipts. Nil is allowed;
// the orchestrator then keeps no durable trail.
type RunRepository interface {
	CreateRun(ctx context.Context, req ResearchRequest) error
	SetRunState(ctx context.Context, runID string, state RunState) error
	MarkRunFailed(ctx context.Context, runID string, stage Stage, cause string) error
	SaveOutcomes(ctx context.Context, runID string, outcomes []SearchOutcome) error
	SaveReport(ctx context.Context, runID string, draft ReportDraft) error
	SaveReceipt(ctx context.Context, runID string, receipt DeliveryReceipt) error
}

// StatusRepository publishes live run status for other processes to read.
// Nil is allowed; status is then only held in memory.
type StatusRepository interface {
	Publish(ctx context.Context, status RunStatus) error
}
