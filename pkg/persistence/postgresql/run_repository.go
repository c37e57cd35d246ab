package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/luminacrm/copyflow/pkg/models"
	"github.com/luminacrm/copyflow/pkg/persistence"
)

const runColumns = `id, workflow_name, idempotency_key, status, triggered_by,
	input, output, error_message, started_at, finished_at, heartbeat_at, created_at`

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// FindByKey returns the run identified by (workflow_name, idempotency_key).
func (rr *RunRepository) FindByKey(ctx context.Context, workflowName, idempotencyKey string) (*models.WorkflowRun, error) {
	query := `SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE workflow_name = $1 AND idempotency_key = $2`

	row := rr.db.QueryRowContext(ctx, query, workflowName, idempotencyKey)

	run, err := rr.scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunKeyError("FindByKey", idempotencyKey, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

// GetByID returns a run by its id.
func (rr *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE id = $1`

	row := rr.db.QueryRowContext(ctx, query, id)

	run, err := rr.scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

// Create inserts a new run row.
func (rr *RunRepository) Create(ctx context.Context, run *models.WorkflowRun) error {
	inputJSON, outputJSON, err := marshalRunPayloads(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = rr.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowName,
		run.IdempotencyKey,
		run.Status,
		run.TriggeredBy,
		inputJSON,
		outputJSON,
		nullableString(run.ErrorMessage),
		nullableTime(run.StartedAt),
		run.FinishedAt,
		nullableTime(run.HeartbeatAt),
		run.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.NewRunKeyError("Create", run.IdempotencyKey, persistence.ErrRunAlreadyExists)
		}

		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// Update persists non-terminal bookkeeping changes, including re-entry of a
// failed or skipped attempt. A succeeded run is never touched again.
func (rr *RunRepository) Update(ctx context.Context, run *models.WorkflowRun) error {
	if run.Status.Terminal() {
		return persistence.NewRunError("Update", run.ID, persistence.ErrRunAlreadyFinal)
	}

	inputJSON, _, err := marshalRunPayloads(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_runs
		SET status = $2,
			triggered_by = $3,
			input = $4,
			error_message = $5,
			started_at = $6,
			heartbeat_at = $7
		WHERE id = $1
		  AND status <> 'success'
	`

	result, err := rr.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.TriggeredBy,
		inputJSON,
		nullableString(run.ErrorMessage),
		nullableTime(run.StartedAt),
		nullableTime(run.HeartbeatAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return rr.checkAffected(result, "Update", run.ID)
}

// Finalize performs the single terminal write for a run.
func (rr *RunRepository) Finalize(ctx context.Context, id string, status models.RunStatus, output map[string]any, errorMessage string) error {
	outputJSON, err := marshalJSONMap(output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	query := `
		UPDATE workflow_runs
		SET status = $2, output = $3, error_message = $4, finished_at = NOW()
		WHERE id = $1
		  AND status NOT IN ('success', 'failed', 'skipped')
	`

	result, err := rr.db.ExecContext(ctx, query, id, status, outputJSON, nullableString(errorMessage))
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	return rr.checkAffected(result, "Finalize", id)
}

// ClaimQueued atomically claims up to limit queued runs, oldest first.
// SKIP LOCKED keeps concurrent drainer passes from claiming the same rows.
func (rr *RunRepository) ClaimQueued(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	query := `
		UPDATE workflow_runs
		SET status = 'running', error_message = NULL, started_at = NOW(), heartbeat_at = NOW()
		WHERE id IN (
			SELECT id FROM workflow_runs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + runColumns

	rows, err := rr.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queued runs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			rr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var runs []*models.WorkflowRun

	for rows.Next() {
		run, err := rr.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed runs: %w", err)
	}

	// RETURNING does not guarantee order; claimed batches are small so the
	// FIFO sort is redone here.
	sortRunsByCreation(runs)

	return runs, nil
}

// CountQueued returns the size of the remaining backlog.
func (rr *RunRepository) CountQueued(ctx context.Context) (int, error) {
	var count int

	err := rr.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_runs WHERE status = 'queued'").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued runs: %w", err)
	}

	return count, nil
}

// Heartbeat refreshes the lease timestamp of a running run.
func (rr *RunRepository) Heartbeat(ctx context.Context, runID string, at time.Time) error {
	_, err := rr.db.ExecContext(ctx,
		"UPDATE workflow_runs SET heartbeat_at = $2 WHERE id = $1 AND status = 'running'",
		runID, at)
	if err != nil {
		return fmt.Errorf("failed to heartbeat run: %w", err)
	}

	return nil
}

// RequeueStale moves runs stuck in running past the lease back to queued.
func (rr *RunRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE workflow_runs
		SET status = 'queued', error_message = 'requeued after stale lease'
		WHERE status = 'running'
		  AND heartbeat_at < NOW() - ($1 * INTERVAL '1 second')
	`

	result, err := rr.db.ExecContext(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read requeue count: %w", err)
	}

	return int(affected), nil
}

func (rr *RunRepository) checkAffected(result sql.Result, op, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		// Either the run does not exist or it already holds a terminal status.
		return persistence.NewRunError(op, id, persistence.ErrRunAlreadyFinal)
	}

	return nil
}

// scanRun scans a run from a database row.
func (rr *RunRepository) scanRun(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowRun, error) {
	var (
		run                    models.WorkflowRun
		inputJSON, outputJSON  []byte
		triggeredBy, errMsg    sql.NullString
		startedAt, heartbeatAt sql.NullTime
	)

	err := scanner.Scan(
		&run.ID,
		&run.WorkflowName,
		&run.IdempotencyKey,
		&run.Status,
		&triggeredBy,
		&inputJSON,
		&outputJSON,
		&errMsg,
		&startedAt,
		&run.FinishedAt,
		&heartbeatAt,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.TriggeredBy = triggeredBy.String
	run.ErrorMessage = errMsg.String
	run.StartedAt = startedAt.Time
	run.HeartbeatAt = heartbeatAt.Time

	if inputJSON != nil {
		err := json.Unmarshal(inputJSON, &run.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}

	if outputJSON != nil {
		err := json.Unmarshal(outputJSON, &run.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	return &run, nil
}

func marshalRunPayloads(run *models.WorkflowRun) (inputJSON, outputJSON []byte, err error) {
	inputJSON, err = marshalJSONMap(run.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	outputJSON, err = marshalJSONMap(run.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal output: %w", err)
	}

	return inputJSON, outputJSON, nil
}

func marshalJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}

	return json.Marshal(m)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t
}

func sortRunsByCreation(runs []*models.WorkflowRun) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}
