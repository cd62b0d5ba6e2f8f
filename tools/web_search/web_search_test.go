package web_search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
)

func TestContextSizeResultCount(t *testing.T) {
	cases := map[ContextSize]int{
		ContextLow:        3,
		ContextMedium:     5,
		ContextHigh:       10,
		ContextSize("??"): 5,
	}
	for size, want := range cases {
		if got := size.ResultCount(); got != want {
			t.Fatalf("%s: got %d want %d", size, got, want)
		}
	}
}

type stubDiscoverer struct {
	gotK    int
	results []models.Result
	err     error
}

func (s *stubDiscoverer) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	s.gotK = k
	return s.results, s.err
}

func TestSearchPassesResultCount(t *testing.T) {
	d := &stubDiscoverer{results: []models.Result{{Title: "t"}}}
	s := searcher{d}

	results, err := s.Search(context.Background(), "q", ContextHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.gotK != 10 {
		t.Fatalf("expected 10 results requested, got %d", d.gotK)
	}
	if len(results) != 1 {
		t.Fatalf("expected passthrough of results")
	}
}

func TestSearchWrapsProviderError(t *testing.T) {
	s := searcher{&stubDiscoverer{err: errors.New("quota exceeded")}}

	_, err := s.Search(context.Background(), "q", ContextLow)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("original cause should survive: %v", err)
	}
}

func TestNewWebSearcherRejectsUnknownProvider(t *testing.T) {
	if _, err := NewWebSearcher("duckduck", "key"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestFormatResultsNumbersHits(t *testing.T) {
	text := FormatResults([]models.Result{
		{Title: "First", URL: "https://a.example", Snippet: "alpha"},
		{Title: "Second", URL: "https://b.example", Snippet: "beta"},
	})
	if !strings.HasPrefix(text, "1. First") {
		t.Fatalf("unexpected formatting:\n%s", text)
	}
	if !strings.Contains(text, "2. Second") || !strings.Contains(text, "https://b.example") {
		t.Fatalf("unexpected formatting:\n%s", text)
	}
}
