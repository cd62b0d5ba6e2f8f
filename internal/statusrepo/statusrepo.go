package statusrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deepresearch/config"
	core "github.com/mohammad-safakhou/deepresearch/internal/agent/core"
)

const statusTTL = 24 * time.Hour

// Repository publishes live run status into Redis so other processes can
// watch a run's progress. It implements core.StatusRepository.
type Repository struct {
	client *redis.Client
}

// Conn dials Redis and verifies the connection.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		DialTimeout: cfg.Timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}

// New creates a Repository over an established client.
func New(client *redis.Client) *Repository {
	return &Repository{client: client}
}

func statusKey(runID string) string { return "deepresearch:run:" + runID + ":status" }

// Publish stores the status snapshot as JSON under the run's key and pushes
// it to the run's status channel for live subscribers.
func (r *Repository) Publish(ctx context.Context, status core.RunStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	key := statusKey(status.RunID)
	if err := r.client.Set(ctx, key, payload, statusTTL).Err(); err != nil {
		return err
	}
	return r.client.Publish(ctx, key, payload).Err()
}

// Get reads the last published status for a run.
func (r *Repository) Get(ctx context.Context, runID string) (core.RunStatus, bool, error) {
	payload, err := r.client.Get(ctx, statusKey(runID)).Bytes()
	if err == redis.Nil {
		return core.RunStatus{}, false, nil
	}
	if err != nil {
		return core.RunStatus{}, false, err
	}
	var status core.RunStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return core.RunStatus{}, false, err
	}
	return status, true, nil
}
