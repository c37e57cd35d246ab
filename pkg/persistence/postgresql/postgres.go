// Package postgresql provides the PostgreSQL implementation of the run ledger.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/luminacrm/copyflow/pkg/models"
	"github.com/luminacrm/copyflow/pkg/persistence/sqlbase"
)

// Persistence implements the run ledger on PostgreSQL.
type Persistence struct {
	db       *sql.DB
	logger   *slog.Logger
	runRepo  *RunRepository
	stepRepo *StepRepository
}

// NewPersistence creates a new PostgreSQL ledger and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:       database,
		logger:   logger,
		runRepo:  NewRunRepository(database, logger),
		stepRepo: NewStepRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) FindRunByKey(ctx context.Context, workflowName, idempotencyKey string) (*models.WorkflowRun, error) {
	return p.runRepo.FindByKey(ctx, workflowName, idempotencyKey)
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	return p.runRepo.GetByID(ctx, id)
}

func (p *Persistence) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	return p.runRepo.Create(ctx, run)
}

func (p *Persistence) UpdateRun(ctx context.Context, run *models.WorkflowRun) error {
	return p.runRepo.Update(ctx, run)
}

func (p *Persistence) FinalizeRun(ctx context.Context, id string, status models.RunStatus, output map[string]any, errorMessage string) error {
	return p.runRepo.Finalize(ctx, id, status, output, errorMessage)
}

func (p *Persistence) AppendStep(ctx context.Context, step *models.WorkflowRunStep) error {
	return p.stepRepo.Append(ctx, step)
}

func (p *Persistence) StepsByRun(ctx context.Context, runID string) ([]*models.WorkflowRunStep, error) {
	return p.stepRepo.ByRun(ctx, runID)
}

func (p *Persistence) ClaimQueuedRuns(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	return p.runRepo.ClaimQueued(ctx, limit)
}

func (p *Persistence) CountQueuedRuns(ctx context.Context) (int, error) {
	return p.runRepo.CountQueued(ctx)
}

func (p *Persistence) Heartbeat(ctx context.Context, runID string, at time.Time) error {
	return p.runRepo.Heartbeat(ctx, runID, at)
}

func (p *Persistence) RequeueStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	return p.runRepo.RequeueStale(ctx, olderThan)
}
