package web_search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/tools/web_search/brave"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/serper"
)

// ContextSize trades result breadth against cost and latency.
type ContextSize string

const (
	ContextLow    ContextSize = "low"
	ContextMedium ContextSize = "medium"
	ContextHigh   ContextSize = "high"
)

// ResultCount maps a context size to the number of hits requested from a provider.
func (c ContextSize) ResultCount() int {
	switch c {
	case ContextLow:
		return 3
	case ContextHigh:
		return 10
	default:
		return 5
	}
}

// WebSearcher is the web search capability: one query in, result hits out.
type WebSearcher interface {
	Search(ctx context.Context, q string, size ContextSize) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

// ErrUnavailable marks provider-side failures (network, quota, bad key).
var ErrUnavailable = errors.New("search unavailable")

var ErrUnsupportedProvider = errors.New("unsupported provider")

type discoverer interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type searcher struct {
	d discoverer
}

func (s searcher) Search(ctx context.Context, q string, size ContextSize) ([]models.Result, error) {
	results, err := s.d.Discover(ctx, q, size.ResultCount())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return results, nil
}

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return searcher{serper.Search{ApiKey: apiKey}}, nil
	case BraveProvider:
		return searcher{brave.Search{ApiKey: apiKey}}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// FormatResults renders search hits as a text block for the summarization model.
func FormatResults(results []models.Result) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimSpace(b.String())
}
