package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/tools/email"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Research: config.ResearchConfig{
			TargetSearchCount:     3,
			SearchContextSize:     "medium",
			MinimumReportWords:    5,
			MaxConcurrentSearches: 0,
			MaxConcurrentRuns:     2,
		},
		LLM: config.LLMConfig{
			Routing: config.LLMRoutingConfig{
				Planning:      "test-model",
				Summarization: "test-model",
				Synthesis:     "test-model",
			},
		},
		Email: config.EmailConfig{
			SenderAddress: "research@example.com",
			Recipient:     "reader@example.com",
			SubjectPrefix: "[research]",
		},
	}
}

func testTelemetry() *telemetry.Telemetry {
	return telemetry.NewTelemetry(config.TelemetryConfig{Enabled: false})
}

// fakeLLM scripts responses keyed by call order. generate inspects the
// prompt so one fake can serve planner, executor and writer at once.
type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	generate func(call int, prompt, model string) (string, error)
}

func (f *fakeLLM) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := f.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

func (f *fakeLLM) GenerateWithTokens(ctx context.Context, prompt, model string, options map[string]interface{}) (string, int64, int64, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()
	resp, err := f.generate(call, prompt, model)
	if err != nil {
		return "", 0, 0, err
	}
	return resp, 10, 20, nil
}

func (f *fakeLLM) GetModelInfo(model string) (ModelInfo, error) {
	return ModelInfo{Name: model, Provider: "fake"}, nil
}

func (f *fakeLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSearcher returns canned results or errors keyed by query.
type fakeSearcher struct {
	mu      sync.Mutex
	active  int
	peak    int
	results map[string][]models.Result
	errs    map[string]error
	delay   time.Duration
}

func (f *fakeSearcher) Search(ctx context.Context, query string, size web_search.ContextSize) ([]models.Result, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if err, ok := f.errs[query]; ok {
		return nil, err
	}
	if res, ok := f.results[query]; ok {
		return res, nil
	}
	return []models.Result{{Title: "t", URL: "https://example.com", Snippet: "s"}}, nil
}

// fakeSender records sent messages and can fail on demand.
type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeRunRepo captures persistence calls in memory.
type fakeRunRepo struct {
	mu       sync.Mutex
	states   map[string]RunState
	failures map[string]string
	outcomes map[string][]SearchOutcome
	reports  map[string]ReportDraft
	receipts map[string]DeliveryReceipt
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{
		states:   make(map[string]RunState),
		failures: make(map[string]string),
		outcomes: make(map[string][]SearchOutcome),
		reports:  make(map[string]ReportDraft),
		receipts: make(map[string]DeliveryReceipt),
	}
}

func (r *fakeRunRepo) CreateRun(ctx context.Context, req ResearchRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[req.ID] = StatePending
	return nil
}

func (r *fakeRunRepo) SetRunState(ctx context.Context, runID string, state RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[runID] = state
	return nil
}

func (r *fakeRunRepo) MarkRunFailed(ctx context.Context, runID string, stage Stage, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[runID] = StateFailed
	r.failures[runID] = fmt.Sprintf("%s/%s", stage, cause)
	return nil
}

func (r *fakeRunRepo) SaveOutcomes(ctx context.Context, runID string, outcomes []SearchOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[runID] = outcomes
	return nil
}

func (r *fakeRunRepo) SaveReport(ctx context.Context, runID string, draft ReportDraft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[runID] = draft
	return nil
}

func (r *fakeRunRepo) SaveReceipt(ctx context.Context, runID string, receipt DeliveryReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts[runID] = receipt
	return nil
}

const validPlanJSON = `{
  "searches": [
    {"query": "alpha", "reason": "first angle"},
    {"query": "beta", "reason": "second angle"},
    {"query": "gamma", "reason": "third angle"}
  ]
}`

const validReportJSON = `{
  "short_summary": "Findings in brief.",
  "markdown_report": "# Report\n\nThese are the synthesized findings across all searches.",
  "follow_up_questions": ["what next?"]
}`
