package postgresql

import "github.com/dukex/flowmedic/pkg/persistence/sqlbase"

func migrations() []sqlbase.Migration {
	return []sqlbase.Migration{
		{Version: 1, Description: "executions and healing history", SQL: `
			-- Execution records as JSONB documents with indexed lookup columns
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				mode VARCHAR(32) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_created_at ON executions(created_at);

			-- Append-only healing history
			CREATE TABLE healing_entries (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				outcome VARCHAR(32) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL
			);

			CREATE INDEX idx_healing_entries_workflow_created ON healing_entries(workflow_id, created_at);
			CREATE INDEX idx_healing_entries_execution_id ON healing_entries(execution_id);
		`},
		{Version: 2, Description: "alert rules", SQL: `
			CREATE TABLE alert_rules (
				id VARCHAR(255) PRIMARY KEY,
				document JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`},
	}
}
