package statusrepo

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	core "github.com/mohammad-safakhou/deepresearch/internal/agent/core"
)

// testRepo connects to the Redis named by REDIS_ADDR (host:port), or skips.
func testRepo(t *testing.T) *Repository {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	host, port, ok := strings.Cut(addr, ":")
	if !ok {
		t.Fatalf("REDIS_ADDR must be host:port, got %s", addr)
	}
	client, err := Conn(context.Background(), config.RedisConfig{
		Enabled: true,
		Host:    host,
		Port:    port,
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return New(client)
}

func TestPublishAndGetRoundTrip(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	status := core.RunStatus{
		RunID:          "statusrepo-test-run",
		State:          core.StateSearching,
		Progress:       0.3,
		Message:        "executing searches",
		TotalTasks:     3,
		CompletedTasks: 1,
		LastUpdated:    time.Now(),
	}
	if err := r.Publish(ctx, status); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, ok, err := r.Get(ctx, status.RunID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%t err=%v", ok, err)
	}
	if got.State != core.StateSearching || got.TotalTasks != 3 || got.CompletedTasks != 1 {
		t.Fatalf("status lossy: %#v", got)
	}
}

func TestGetUnknownRun(t *testing.T) {
	r := testRepo(t)
	_, ok, err := r.Get(context.Background(), "no-such-run")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for unknown run")
	}
}
