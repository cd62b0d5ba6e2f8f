package core

import (
	"fmt"
	"log"
	"strings"
	"time"

	"context"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/schema"
)

// ReportSynthesizer combines the original query and the successful search
// summaries into one structured long-form report.
type ReportSynthesizer struct {
	config      *config.Config
	llmProvider LLMProvider
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewReportSynthesizer creates a new synthesizer instance
func NewReportSynthesizer(cfg *config.Config, llmProvider LLMProvider, tele *telemetry.Telemetry) *ReportSynthesizer {
	return &ReportSynthesizer{
		config:      cfg,
		llmProvider: llmProvider,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[WRITER] ", log.LstdFlags),
	}
}

// Synthesize produces a validated ReportDraft from the successful outcomes.
// With zero successful outcomes it returns SynthesisError{NoUsableInput}
// without invoking the completion capability. A report under the configured
// word floor is a MalformedReport validation failure, never a silent pass.
func (s *ReportSynthesizer) Synthesize(ctx context.Context, query string, outcomes []SearchOutcome) (ReportDraft, error) {
	var summaries []string
	failed := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			summaries = append(summaries, o.Summary)
		} else {
			failed++
		}
	}
	if len(summaries) == 0 {
		return ReportDraft{}, SynthesisError{Cause: SynthesisNoUsableInput}
	}

	startTime := time.Now()
	model := s.config.LLM.Routing.Synthesis
	prompt := s.createReportPrompt(query, summaries, failed)

	response, inTokens, outTokens, err := s.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.5,
		"json_object": true,
	})
	if err != nil {
		return ReportDraft{}, SynthesisError{Cause: SynthesisUpstream, Err: err}
	}
	s.telemetry.RecordLLMUsage(ctx, telemetry.LLMUsage{
		Model:        model,
		Operation:    "synthesis",
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Cost:         s.llmProvider.CalculateCost(inTokens, outTokens, model),
		Latency:      time.Since(startTime),
	})

	draft, err := s.parseReportResponse(response)
	if err != nil {
		return ReportDraft{}, SynthesisError{Cause: SynthesisMalformedReport, Err: err}
	}

	s.logger.Printf("report synthesized in %v: %d words, %d follow-ups",
		time.Since(startTime), draft.WordCount(), len(draft.FollowUpQuestions))
	return draft, nil
}

func (s *ReportSynthesizer) createReportPrompt(query string, summaries []string, failedSearches int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a senior researcher tasked with writing a cohesive report for a research query. You will be provided with the original query, and some initial research done by a research assistant.

You should first come up with an outline for the report that describes the structure and flow of the report. Then, generate the report and return that as your final output.

The final output should be in markdown format, and it should be lengthy and detailed. Aim for 5-10 pages of content, at least %d words.

ORIGINAL QUERY: %s

`, s.config.Research.MinimumReportWords, query)
	if failedSearches > 0 {
		fmt.Fprintf(&b, "NOTE: %d of the planned searches failed; work with the summaries below.\n\n", failedSearches)
	}
	b.WriteString("SUMMARIZED SEARCH RESULTS:\n")
	for i, summary := range summaries {
		fmt.Fprintf(&b, "--- summary %d ---\n%s\n\n", i+1, summary)
	}
	b.WriteString(`OUTPUT FORMAT (JSON, no other text):
{
  "short_summary": "a short 2-3 sentence summary of the findings",
  "markdown_report": "the final report in markdown format",
  "follow_up_questions": ["suggested topics to research further"]
}`)
	return b.String()
}

func (s *ReportSynthesizer) parseReportResponse(response string) (ReportDraft, error) {
	jsonStr, ok := extractJSONObject(response)
	if !ok {
		return ReportDraft{}, fmt.Errorf("no JSON found in response")
	}

	doc, err := schema.DecodeReportDocument([]byte(jsonStr))
	if err != nil {
		return ReportDraft{}, err
	}

	draft := ReportDraft{
		ShortSummary:      doc.ShortSummary,
		MarkdownBody:      doc.MarkdownReport,
		FollowUpQuestions: doc.FollowUpQuestions,
	}
	if minWords := s.config.Research.MinimumReportWords; draft.WordCount() < minWords {
		return ReportDraft{}, fmt.Errorf("report has %d words, want >= %d", draft.WordCount(), minWords)
	}
	return draft, nil
}
