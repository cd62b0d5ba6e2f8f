package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	core "github.com/mohammad-safakhou/deepresearch/internal/agent/core"
)

// Store persists research runs and their artifacts in Postgres. It implements
// core.RunRepository.
type Store struct {
	DB *sql.DB
}

// New constructs the Store from environment configuration.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Run is a persisted run row.
type Run struct {
	ID           string
	Query        string
	Recipient    string
	State        core.RunState
	FailureStage sql.NullString
	FailureCause sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateRun inserts the run in pending state.
func (s *Store) CreateRun(ctx context.Context, req core.ResearchRequest) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, query, recipient, state, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$5)`,
		req.ID, req.Query, req.Recipient, core.StatePending, req.CreatedAt)
	return err
}

// SetRunState moves the run to the given state.
func (s *Store) SetRunState(ctx context.Context, runID string, state core.RunState) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET state=$2, updated_at=NOW() WHERE id=$1`, runID, state)
	if err != nil {
		return err
	}
	return requireRow(res, runID)
}

// MarkRunFailed records the terminal failure with its stage and cause.
func (s *Store) MarkRunFailed(ctx context.Context, runID string, stage core.Stage, cause string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET state=$2, failure_stage=$3, failure_cause=$4, updated_at=NOW() WHERE id=$1`,
		runID, core.StateFailed, string(stage), cause)
	if err != nil {
		return err
	}
	return requireRow(res, runID)
}

// SaveOutcomes stores the per-task search outcomes in plan order.
func (s *Store) SaveOutcomes(ctx context.Context, runID string, outcomes []core.SearchOutcome) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, o := range outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_outcomes (run_id, position, query, rationale, status, summary, error_detail)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)
			 ON CONFLICT (run_id, position) DO UPDATE
			 SET status=EXCLUDED.status, summary=EXCLUDED.summary, error_detail=EXCLUDED.error_detail`,
			runID, i, o.Task.Query, o.Task.Rationale, o.Status, o.Summary, o.ErrorDetail); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveReport stores the synthesized report for the run.
func (s *Store) SaveReport(ctx context.Context, runID string, draft core.ReportDraft) error {
	questions, err := json.Marshal(draft.FollowUpQuestions)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO reports (run_id, short_summary, markdown_body, follow_up_questions, created_at)
		 VALUES ($1,$2,$3,$4,NOW())
		 ON CONFLICT (run_id) DO UPDATE
		 SET short_summary=EXCLUDED.short_summary, markdown_body=EXCLUDED.markdown_body,
		     follow_up_questions=EXCLUDED.follow_up_questions`,
		runID, draft.ShortSummary, draft.MarkdownBody, questions)
	return err
}

// SaveReceipt stores the delivery receipt. The run_id unique constraint keeps
// the audit trail at one receipt per run.
func (s *Store) SaveReceipt(ctx context.Context, runID string, receipt core.DeliveryReceipt) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO delivery_receipts (run_id, recipient, delivered_at)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (run_id) DO NOTHING`,
		runID, receipt.Recipient, receipt.Timestamp)
	return err
}

// GetRun fetches one run row.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, bool, error) {
	var r Run
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, query, recipient, state, failure_stage, failure_cause, created_at, updated_at
		 FROM runs WHERE id=$1`, runID).
		Scan(&r.ID, &r.Query, &r.Recipient, &r.State, &r.FailureStage, &r.FailureCause, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return r, true, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, query, recipient, state, failure_stage, failure_cause, created_at, updated_at
		 FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Query, &r.Recipient, &r.State, &r.FailureStage, &r.FailureCause, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetOutcomes returns the run's search outcomes in plan order.
func (s *Store) GetOutcomes(ctx context.Context, runID string) ([]core.SearchOutcome, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT query, rationale, status, summary, error_detail
		 FROM search_outcomes WHERE run_id=$1 ORDER BY position ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.SearchOutcome
	for rows.Next() {
		var o core.SearchOutcome
		if err := rows.Scan(&o.Task.Query, &o.Task.Rationale, &o.Status, &o.Summary, &o.ErrorDetail); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetReport fetches the synthesized report for a run.
func (s *Store) GetReport(ctx context.Context, runID string) (core.ReportDraft, bool, error) {
	var draft core.ReportDraft
	var questions []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT short_summary, markdown_body, follow_up_questions FROM reports WHERE run_id=$1`, runID).
		Scan(&draft.ShortSummary, &draft.MarkdownBody, &questions)
	if err == sql.ErrNoRows {
		return core.ReportDraft{}, false, nil
	}
	if err != nil {
		return core.ReportDraft{}, false, err
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &draft.FollowUpQuestions); err != nil {
			return core.ReportDraft{}, false, err
		}
	}
	return draft, true, nil
}

// GetReceipt fetches the delivery receipt for a run.
func (s *Store) GetReceipt(ctx context.Context, runID string) (core.DeliveryReceipt, bool, error) {
	var r core.DeliveryReceipt
	err := s.DB.QueryRowContext(ctx,
		`SELECT recipient, delivered_at FROM delivery_receipts WHERE run_id=$1`, runID).
		Scan(&r.Recipient, &r.Timestamp)
	if err == sql.ErrNoRows {
		return core.DeliveryReceipt{}, false, nil
	}
	if err != nil {
		return core.DeliveryReceipt{}, false, err
	}
	r.Delivered = true
	return r, true, nil
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}
