// Package file provides a file-backed run ledger for development and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/luminacrm/copyflow/pkg/models"
	"github.com/luminacrm/copyflow/pkg/persistence"
)

const dirPermissions = 0o755

// Persistence implements the run ledger on the local file system. One JSON
// document per run, one JSON document per step trace. A process-local mutex
// provides the claim/finalize guarantees that PostgreSQL provides with
// conditional updates.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a file ledger rooted at the given directory. The
// root is created up front so a fresh ledger reports healthy before the
// first write.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	_ = os.MkdirAll(cleanRoot, dirPermissions)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. Nothing to do for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) FindRunByKey(_ context.Context, workflowName, idempotencyKey string) (*models.WorkflowRun, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	runs, err := fp.loadAllRuns()
	if err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.WorkflowName == workflowName && run.IdempotencyKey == idempotencyKey {
			return run, nil
		}
	}

	return nil, persistence.NewRunKeyError("FindRunByKey", idempotencyKey, persistence.ErrRunNotFound)
}

func (fp *Persistence) RunByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.loadRun(id)
}

func (fp *Persistence) CreateRun(_ context.Context, run *models.WorkflowRun) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	runs, err := fp.loadAllRuns()
	if err != nil {
		return err
	}

	for _, existing := range runs {
		if existing.WorkflowName == run.WorkflowName && existing.IdempotencyKey == run.IdempotencyKey {
			return persistence.NewRunKeyError("CreateRun", run.IdempotencyKey, persistence.ErrRunAlreadyExists)
		}
	}

	return fp.writeRun(run)
}

func (fp *Persistence) UpdateRun(_ context.Context, run *models.WorkflowRun) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if run.Status.Terminal() {
		return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrRunAlreadyFinal)
	}

	existing, err := fp.loadRun(run.ID)
	if err != nil {
		return err
	}

	// Failed and skipped attempts may be re-entered; success never is.
	if existing.Status == models.RunStatusSuccess {
		return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrRunAlreadyFinal)
	}

	return fp.writeRun(run)
}

func (fp *Persistence) FinalizeRun(_ context.Context, id string, status models.RunStatus, output map[string]any, errorMessage string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	run, err := fp.loadRun(id)
	if err != nil {
		return err
	}

	if run.Status.Terminal() {
		return persistence.NewRunError("FinalizeRun", id, persistence.ErrRunAlreadyFinal)
	}

	now := time.Now().UTC()
	run.Status = status
	run.Output = output
	run.ErrorMessage = errorMessage
	run.FinishedAt = &now

	return fp.writeRun(run)
}

func (fp *Persistence) AppendStep(_ context.Context, step *models.WorkflowRunStep) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	steps, err := fp.loadSteps(step.RunID)
	if err != nil {
		return err
	}

	steps = append(steps, step)

	return fp.writeSteps(step.RunID, steps)
}

func (fp *Persistence) StepsByRun(_ context.Context, runID string) ([]*models.WorkflowRunStep, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.loadSteps(runID)
}

func (fp *Persistence) ClaimQueuedRuns(_ context.Context, limit int) ([]*models.WorkflowRun, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	runs, err := fp.loadAllRuns()
	if err != nil {
		return nil, err
	}

	queued := make([]*models.WorkflowRun, 0)

	for _, run := range runs {
		if run.Status == models.RunStatusQueued {
			queued = append(queued, run)
		}
	}

	sort.Slice(queued, func(i, j int) bool {
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})

	if len(queued) > limit {
		queued = queued[:limit]
	}

	now := time.Now().UTC()

	for _, run := range queued {
		run.Status = models.RunStatusRunning
		run.ErrorMessage = ""
		run.StartedAt = now
		run.HeartbeatAt = now

		if err := fp.writeRun(run); err != nil {
			return nil, err
		}
	}

	return queued, nil
}

func (fp *Persistence) CountQueuedRuns(_ context.Context) (int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	runs, err := fp.loadAllRuns()
	if err != nil {
		return 0, err
	}

	count := 0

	for _, run := range runs {
		if run.Status == models.RunStatusQueued {
			count++
		}
	}

	return count, nil
}

func (fp *Persistence) Heartbeat(_ context.Context, runID string, at time.Time) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	run, err := fp.loadRun(runID)
	if err != nil {
		return err
	}

	if run.Status != models.RunStatusRunning {
		return nil
	}

	run.HeartbeatAt = at

	return fp.writeRun(run)
}

func (fp *Persistence) RequeueStaleRuns(_ context.Context, olderThan time.Duration) (int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	runs, err := fp.loadAllRuns()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	requeued := 0

	for _, run := range runs {
		if run.Status != models.RunStatusRunning || !run.HeartbeatAt.Before(cutoff) {
			continue
		}

		run.Status = models.RunStatusQueued
		run.ErrorMessage = "requeued after stale lease"

		if err := fp.writeRun(run); err != nil {
			return requeued, err
		}

		requeued++
	}

	return requeued, nil
}

func (fp *Persistence) runsDir() string {
	return filepath.Join(fp.root, "runs")
}

func (fp *Persistence) stepsDir() string {
	return filepath.Join(fp.root, "steps")
}

func (fp *Persistence) runPath(id string) string {
	return filepath.Join(fp.runsDir(), id+".json")
}

func (fp *Persistence) stepsPath(runID string) string {
	return filepath.Join(fp.stepsDir(), runID+".json")
}

func (fp *Persistence) loadRun(id string) (*models.WorkflowRun, error) {
	data, err := os.ReadFile(fp.runPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError("loadRun", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var run models.WorkflowRun

	err = json.Unmarshal(data, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}

	return &run, nil
}

func (fp *Persistence) loadAllRuns() ([]*models.WorkflowRun, error) {
	root := os.DirFS(fp.runsDir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.WorkflowRun, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		runID := strings.TrimSuffix(file, ".json")

		run, err := fp.loadRun(runID)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func (fp *Persistence) writeRun(run *models.WorkflowRun) error {
	err := os.MkdirAll(fp.runsDir(), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	err = os.WriteFile(fp.runPath(run.ID), data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}

	return nil
}

func (fp *Persistence) loadSteps(runID string) ([]*models.WorkflowRunStep, error) {
	data, err := os.ReadFile(fp.stepsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.WorkflowRunStep{}, nil
		}

		return nil, fmt.Errorf("failed to read steps file: %w", err)
	}

	var steps []*models.WorkflowRunStep

	err = json.Unmarshal(data, &steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps for run %s: %w", runID, err)
	}

	return steps, nil
}

func (fp *Persistence) writeSteps(runID string, steps []*models.WorkflowRunStep) error {
	err := os.MkdirAll(fp.stepsDir(), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create steps directory: %w", err)
	}

	data, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal steps for run %s: %w", runID, err)
	}

	err = os.WriteFile(fp.stepsPath(runID), data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write steps file: %w", err)
	}

	return nil
}
