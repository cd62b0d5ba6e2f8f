package core

import (
	"errors"
	"fmt"
)

// Stage names the pipeline stage a run-level error originated from.
type Stage string

const (
	StagePlanning     Stage = "planning"
	StageSearching    Stage = "searching"
	StageSynthesizing Stage = "synthesizing"
	StageDelivering   Stage = "delivering"
)

// PlanningCause classifies planner failures.
type PlanningCause string

const (
	PlanningUpstream      PlanningCause = "upstream"
	PlanningMalformedPlan PlanningCause = "malformed_plan"
)

// PlanningError is a failure to produce a valid search plan.
type PlanningError struct {
	Cause PlanningCause
	Err   error
}

func (e PlanningError) Error() string {
	return fmt.Sprintf("planning failed (%s): %v", e.Cause, e.Err)
}

func (e PlanningError) Unwrap() error { return e.Err }

// TaskFailure classifies per-task search failures. These are absorbed into
// SearchOutcome.ErrorDetail and never abort sibling tasks.
type TaskFailure string

const (
	TaskSearchUnavailable   TaskFailure = "search_unavailable"
	TaskSummarizationFailed TaskFailure = "summarization_failed"
	TaskMalformedSummary    TaskFailure = "malformed_summary"
)

// SynthesisCause classifies report synthesis failures.
type SynthesisCause string

const (
	SynthesisNoUsableInput   SynthesisCause = "no_usable_input"
	SynthesisUpstream        SynthesisCause = "upstream"
	SynthesisMalformedReport SynthesisCause = "malformed_report"
)

// SynthesisError is a failure to produce a valid report draft.
type SynthesisError struct {
	Cause SynthesisCause
	Err   error
}

func (e SynthesisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("synthesis failed (%s)", e.Cause)
	}
	return fmt.Sprintf("synthesis failed (%s): %v", e.Cause, e.Err)
}

func (e SynthesisError) Unwrap() error { return e.Err }

// DeliveryCause classifies delivery failures.
type DeliveryCause string

const (
	DeliveryRejected DeliveryCause = "delivery_rejected"
	DeliveryUpstream DeliveryCause = "upstream"
)

// DeliveryError is a failure to hand the report to the delivery capability.
type DeliveryError struct {
	Cause DeliveryCause
	Err   error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s): %v", e.Cause, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }

// RunError is the run-level terminal error: which stage failed, and why.
// A run either ends Done with a receipt or Failed with a RunError.
type RunError struct {
	Stage Stage
	Err   error
}

func (e RunError) Error() string {
	return fmt.Sprintf("research failed at %s stage: %v", e.Stage, e.Err)
}

func (e RunError) Unwrap() error { return e.Err }

// FailureCause renders the underlying cause for persistence and API output.
func (e RunError) FailureCause() string {
	var pe PlanningError
	if errors.As(e.Err, &pe) {
		return string(pe.Cause)
	}
	var se SynthesisError
	if errors.As(e.Err, &se) {
		return string(se.Cause)
	}
	var de DeliveryError
	if errors.As(e.Err, &de) {
		return string(de.Cause)
	}
	return e.Err.Error()
}
