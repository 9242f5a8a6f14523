package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE definitions (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				triggers JSONB NOT NULL DEFAULT '[]',
				env JSONB,
				jobs JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_definitions_name ON definitions(name);
			CREATE INDEX idx_definitions_triggers ON definitions USING GIN (triggers);
			CREATE INDEX idx_definitions_deleted_at ON definitions(deleted_at);
		`,
		2: `
			CREATE TABLE run_reports (
				run_id VARCHAR(255) PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'succeeded', 'failed')),
				cancelled BOOLEAN NOT NULL DEFAULT false,
				report JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_run_reports_definition_id ON run_reports(definition_id);
			CREATE INDEX idx_run_reports_started_at ON run_reports(started_at);
		`,
	}
}
