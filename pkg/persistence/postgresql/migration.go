package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Run ledger
			CREATE TABLE workflow_runs (
				id UUID PRIMARY KEY,
				workflow_name VARCHAR(255) NOT NULL,
				idempotency_key VARCHAR(512) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('queued', 'running', 'success', 'failed', 'skipped')),
				triggered_by VARCHAR(255),
				input JSONB,
				output JSONB,
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				heartbeat_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (workflow_name, idempotency_key)
			);

			CREATE INDEX idx_workflow_runs_status_created ON workflow_runs(status, created_at);
			CREATE INDEX idx_workflow_runs_heartbeat ON workflow_runs(heartbeat_at) WHERE status = 'running';

			-- Append-only step trace
			CREATE TABLE workflow_run_steps (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
				step_name VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('success', 'failed', 'skipped')),
				request JSONB,
				response JSONB,
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_run_steps_run ON workflow_run_steps(run_id, started_at);
		`,
	}
}
