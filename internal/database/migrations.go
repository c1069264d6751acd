package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
}

var migrations = []Migration{
	{
		Version: "001_process_events",
		Up: `
			CREATE TABLE process_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				from_state TEXT NOT NULL,
				to_state TEXT NOT NULL,
				pid INTEGER,
				exit_code INTEGER,
				forced INTEGER NOT NULL DEFAULT 0,
				detail TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_process_events_created_at ON process_events(created_at);
		`,
	},
	{
		Version: "002_console_commands",
		Up: `
			CREATE TABLE console_commands (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				principal TEXT NOT NULL,
				command TEXT NOT NULL,
				session_handle TEXT,
				source TEXT NOT NULL,
				executed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_console_commands_principal ON console_commands(principal);
		`,
	},
	{
		Version: "003_process_metrics",
		Up: `
			CREATE TABLE process_metrics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME NOT NULL,
				pid INTEGER,
				cpu_percent REAL,
				memory_mb REAL,
				num_threads INTEGER,
				online INTEGER NOT NULL DEFAULT 0,
				players_online INTEGER,
				players_max INTEGER,
				latency_ms INTEGER
			);
			CREATE INDEX idx_process_metrics_timestamp ON process_metrics(timestamp);
		`,
	},
}
