package server

import "time"

// HTTPError is the unified error body returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

// ResearchSubmitRequest starts a new research run.
type ResearchSubmitRequest struct {
	Query     string `json:"query"`
	Recipient string `json:"recipient,omitempty"`
}

// ResearchSubmitResponse acknowledges an accepted run.
type ResearchSubmitResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

// RunResponse is the persisted view of a run.
type RunResponse struct {
	RunID        string    `json:"run_id"`
	Query        string    `json:"query"`
	Recipient    string    `json:"recipient,omitempty"`
	State        string    `json:"state"`
	FailureStage string    `json:"failure_stage,omitempty"`
	FailureCause string    `json:"failure_cause,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OutcomeResponse is one search task's terminal result.
type OutcomeResponse struct {
	Query       string `json:"query"`
	Rationale   string `json:"rationale"`
	Status      string `json:"status"`
	Summary     string `json:"summary,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// ReportResponse is the synthesized report for a finished run.
type ReportResponse struct {
	RunID             string   `json:"run_id"`
	ShortSummary      string   `json:"short_summary"`
	MarkdownReport    string   `json:"markdown_report"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// StatusResponse is the live progress of an in-flight run.
type StatusResponse struct {
	RunID          string  `json:"run_id"`
	State          string  `json:"state"`
	Progress       float64 `json:"progress"`
	Message        string  `json:"message,omitempty"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
}

// TokenRequest asks for an API token.
type TokenRequest struct {
	Subject string `json:"subject"`
}

// TokenResponse carries a signed JWT.
type TokenResponse struct {
	Token string `json:"token"`
}
