// Package schema is the validate-then-advance gate for every structured
// model response in the pipeline. Raw completions are treated as untrusted
// input: they are checked against an embedded JSON Schema before any stage
// consumes them, and validation never coerces or drops fields.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_schema.json
var planSchemaJSON string

//go:embed report_schema.json
var reportSchemaJSON string

// PlanDocument is the typed form of the planner model's output.
type PlanDocument struct {
	Searches []PlanSearch `json:"searches"`
}

// PlanSearch models a single planned web search.
type PlanSearch struct {
	// Query is the search term to hand to the web search capability.
	Query string `json:"query"`

	// Reason is a one-sentence rationale for why this search contributes
	// to answering the original query.
	Reason string `json:"reason"`
}

// ReportDocument is the typed form of the writer model's output.
type ReportDocument struct {
	ShortSummary      string   `json:"short_summary"`
	MarkdownReport    string   `json:"markdown_report"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

var (
	compileOnce  sync.Once
	planSchema   *jsonschema.Schema
	reportSchema *jsonschema.Schema
	compileErr   error
)

func compiled() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for name, src := range map[string]string{
			"plan_schema.json":   planSchemaJSON,
			"report_schema.json": reportSchemaJSON,
		} {
			if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", name, err)
				return
			}
		}
		plan, err := compiler.Compile("plan_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile plan schema: %w", err)
			return
		}
		report, err := compiler.Compile("report_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile report schema: %w", err)
			return
		}
		planSchema = plan
		reportSchema = report
	})
	return compileErr
}

// PlanSchema returns the compiled JSON Schema for search plan documents.
func PlanSchema() (*jsonschema.Schema, error) {
	if err := compiled(); err != nil {
		return nil, err
	}
	return planSchema, nil
}

// ReportSchema returns the compiled JSON Schema for report documents.
func ReportSchema() (*jsonschema.Schema, error) {
	if err := compiled(); err != nil {
		return nil, err
	}
	return reportSchema, nil
}

// ValidatePlanDocument validates the provided JSON bytes against the plan schema.
func ValidatePlanDocument(data []byte) error {
	s, err := PlanSchema()
	if err != nil {
		return err
	}
	return validate(s, data)
}

// ValidateReportDocument validates the provided JSON bytes against the report schema.
func ValidateReportDocument(data []byte) error {
	s, err := ReportSchema()
	if err != nil {
		return err
	}
	return validate(s, data)
}

func validate(s *jsonschema.Schema, data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ValidationError{Message: fmt.Sprintf("document is not valid JSON: %v", err)}
	}
	if err := s.Validate(doc); err != nil {
		return asValidationError(err)
	}
	return nil
}

// DecodePlanDocument validates and unmarshals a plan document.
func DecodePlanDocument(data []byte) (PlanDocument, error) {
	if err := ValidatePlanDocument(data); err != nil {
		return PlanDocument{}, err
	}
	var doc PlanDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return PlanDocument{}, ValidationError{Message: fmt.Sprintf("decode plan: %v", err)}
	}
	return doc, nil
}

// DecodeReportDocument validates and unmarshals a report document.
func DecodeReportDocument(data []byte) (ReportDocument, error) {
	if err := ValidateReportDocument(data); err != nil {
		return ReportDocument{}, err
	}
	var doc ReportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ReportDocument{}, ValidationError{Message: fmt.Sprintf("decode report: %v", err)}
	}
	return doc, nil
}
