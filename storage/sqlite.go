package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/liamvmurphy/pokestock-sub001/models"
)

// SQLiteStore holds operational state: run history, the ops log and the
// command queue the daemon polls. Listing data lives in Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitor_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		terms_total INTEGER,
		terms_done INTEGER,
		listings_found INTEGER,
		completed_count INTEGER,
		errors_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS monitor_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON monitor_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON monitor_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.MonitorRun) error {
	_, err := s.db.Exec(`
		INSERT INTO monitor_runs (id, started_at, status, terms_total, terms_done,
			listings_found, completed_count, errors_count)
		VALUES (?, ?, ?, ?, 0, 0, 0, 0)`,
		run.ID.String(), run.StartedAt, run.Status, run.TermsTotal)
	return err
}

func (s *SQLiteStore) UpdateRun(run *models.MonitorRun) error {
	_, err := s.db.Exec(`
		UPDATE monitor_runs SET finished_at = ?, status = ?, terms_done = ?,
			listings_found = ?, completed_count = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.TermsDone,
		run.ListingsFound, run.CompletedCount, run.ErrorCount, run.ID.String())
	return err
}

func (s *SQLiteStore) GetRecentRuns(limit int) ([]models.MonitorRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, status, terms_total, terms_done,
			listings_found, completed_count, errors_count
		FROM monitor_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.MonitorRun
	for rows.Next() {
		var run models.MonitorRun
		var id string
		var finishedAt sql.NullTime
		if err := rows.Scan(&id, &run.StartedAt, &finishedAt, &run.Status, &run.TermsTotal,
			&run.TermsDone, &run.ListingsFound, &run.CompletedCount, &run.ErrorCount); err != nil {
			return nil, err
		}
		run.ID, _ = uuid.Parse(id)
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetLastRun() (*models.MonitorRun, error) {
	runs, err := s.GetRecentRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *SQLiteStore) Log(runID *uuid.UUID, level models.LogLevel, message, source string) error {
	var id interface{}
	if runID != nil {
		id = runID.String()
	}
	_, err := s.db.Exec(`
		INSERT INTO monitor_logs (run_id, timestamp, level, message, source)
		VALUES (?, ?, ?, ?, ?)`,
		id, time.Now(), level, message, source)
	return err
}

func (s *SQLiteStore) GetRunLogs(runID uuid.UUID, limit int) ([]models.MonitorLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, source
		FROM monitor_logs WHERE run_id = ? ORDER BY timestamp DESC LIMIT ?`,
		runID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

func (s *SQLiteStore) GetRecentLogs(limit int) ([]models.MonitorLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, source
		FROM monitor_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]models.MonitorLog, error) {
	var logs []models.MonitorLog
	for rows.Next() {
		var entry models.MonitorLog
		var runID sql.NullString
		if err := rows.Scan(&entry.ID, &runID, &entry.Timestamp, &entry.Level, &entry.Message, &entry.Source); err != nil {
			return nil, err
		}
		if runID.Valid {
			if parsed, err := uuid.Parse(runID.String); err == nil {
				entry.RunID = &parsed
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) EnqueueCommand(command string, params interface{}) error {
	var raw interface{}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, command, raw)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
