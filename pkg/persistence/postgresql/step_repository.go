package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/luminacrm/copyflow/pkg/models"
)

// StepRepository handles step trace database operations. The trace is
// append-only; there is no update path.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

// Append inserts one step trace row.
func (sr *StepRepository) Append(ctx context.Context, step *models.WorkflowRunStep) error {
	requestJSON, err := marshalJSONMap(step.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal step request: %w", err)
	}

	responseJSON, err := marshalJSONMap(step.Response)
	if err != nil {
		return fmt.Errorf("failed to marshal step response: %w", err)
	}

	query := `
		INSERT INTO workflow_run_steps (
			id, run_id, step_name, status, request, response,
			error_message, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = sr.db.ExecContext(ctx, query,
		step.ID,
		step.RunID,
		step.StepName,
		step.Status,
		requestJSON,
		responseJSON,
		nullableString(step.ErrorMessage),
		step.StartedAt,
		step.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}

	return nil
}

// ByRun returns the step trace for a run in append order.
func (sr *StepRepository) ByRun(ctx context.Context, runID string) ([]*models.WorkflowRunStep, error) {
	query := `
		SELECT id, run_id, step_name, status, request, response,
			   error_message, started_at, finished_at
		FROM workflow_run_steps
		WHERE run_id = $1
		ORDER BY started_at
	`

	rows, err := sr.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			sr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var steps []*models.WorkflowRunStep

	for rows.Next() {
		step, err := sr.scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (sr *StepRepository) scanStep(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowRunStep, error) {
	var (
		step                      models.WorkflowRunStep
		requestJSON, responseJSON []byte
		errMsg                    sql.NullString
	)

	err := scanner.Scan(
		&step.ID,
		&step.RunID,
		&step.StepName,
		&step.Status,
		&requestJSON,
		&responseJSON,
		&errMsg,
		&step.StartedAt,
		&step.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	step.ErrorMessage = errMsg.String

	if requestJSON != nil {
		err := json.Unmarshal(requestJSON, &step.Request)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step request: %w", err)
		}
	}

	if responseJSON != nil {
		err := json.Unmarshal(responseJSON, &step.Response)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step response: %w", err)
		}
	}

	return &step, nil
}
