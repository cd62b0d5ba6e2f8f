package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/schema"
)

// SearchPlanner decomposes a research query into targeted web searches
// through one model invocation validated against the search-plan schema.
type SearchPlanner struct {
	config      *config.Config
	llmProvider LLMProvider
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewSearchPlanner creates a new planner instance
func NewSearchPlanner(cfg *config.Config, llmProvider LLMProvider, tele *telemetry.Telemetry) *SearchPlanner {
	return &SearchPlanner{
		config:      cfg,
		llmProvider: llmProvider,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Plan turns a free-text query into exactly targetCount search tasks.
// Model failures surface as PlanningError{PlanningUpstream}; structural
// problems in the response as PlanningError{PlanningMalformedPlan}.
// There is no retry at this layer.
func (p *SearchPlanner) Plan(ctx context.Context, query string, targetCount int) (SearchPlan, error) {
	if strings.TrimSpace(query) == "" {
		return SearchPlan{}, fmt.Errorf("query must not be empty")
	}
	if targetCount < 1 {
		return SearchPlan{}, fmt.Errorf("target count must be >= 1, got %d", targetCount)
	}

	startTime := time.Now()
	prompt := p.createPlanningPrompt(query, targetCount)
	model := p.config.LLM.Routing.Planning

	response, inTokens, outTokens, err := p.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.3, // lower temperature for more consistent planning
		"json_object": true,
	})
	if err != nil {
		return SearchPlan{}, PlanningError{Cause: PlanningUpstream, Err: err}
	}
	p.telemetry.RecordLLMUsage(ctx, telemetry.LLMUsage{
		Model:        model,
		Operation:    "planning",
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Cost:         p.llmProvider.CalculateCost(inTokens, outTokens, model),
		Latency:      time.Since(startTime),
	})

	plan, err := p.parsePlanningResponse(response, targetCount)
	if err != nil {
		return SearchPlan{}, PlanningError{Cause: PlanningMalformedPlan, Err: err}
	}

	p.logger.Printf("planning completed in %v with %d searches", time.Since(startTime), len(plan.Tasks))
	return plan, nil
}

func (p *SearchPlanner) createPlanningPrompt(query string, targetCount int) string {
	return fmt.Sprintf(`You are a helpful research assistant. Given a query, come up with a set of web searches to perform to best answer the query. Output exactly %d search terms.

QUERY: %s

For every search give a terse query string and a one-sentence reason why that search contributes to answering the query.

OUTPUT FORMAT (JSON, no other text):
{
  "searches": [
    {
      "query": "search term",
      "reason": "why this search is important to the query"
    }
  ]
}`, targetCount, query)
}

// parsePlanningResponse validates the raw model output against the plan
// schema and checks the planned count. It never coerces a malformed plan.
func (p *SearchPlanner) parsePlanningResponse(response string, targetCount int) (SearchPlan, error) {
	jsonStr, ok := extractJSONObject(response)
	if !ok {
		return SearchPlan{}, fmt.Errorf("no JSON found in response")
	}

	doc, err := schema.DecodePlanDocument([]byte(jsonStr))
	if err != nil {
		return SearchPlan{}, err
	}
	if len(doc.Searches) != targetCount {
		return SearchPlan{}, fmt.Errorf("plan has %d searches, want %d", len(doc.Searches), targetCount)
	}

	tasks := make([]SearchTask, len(doc.Searches))
	for i, s := range doc.Searches {
		tasks[i] = SearchTask{Query: s.Query, Rationale: s.Reason}
	}
	return SearchPlan{Tasks: tasks}, nil
}

// extractJSONObject pulls the first balanced JSON object out of a model
// response that may carry prose or fences around it.
func extractJSONObject(response string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1], true
			}
		}
	}
	return "", false
}
