package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// MonitorRun is the record of one monitoring pass across the configured
// search terms. The live state is process memory only; these rows are run
// history, not resumable state.
type MonitorRun struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at" db:"finished_at"`
	Status         RunStatus  `json:"status" db:"status"`
	TermsTotal     int        `json:"terms_total" db:"terms_total"`
	TermsDone      int        `json:"terms_done" db:"terms_done"`
	ListingsFound  int        `json:"listings_found" db:"listings_found"`
	CompletedCount int        `json:"completed_count" db:"completed_count"`
	ErrorCount     int        `json:"error_count" db:"error_count"`
}

// RunSnapshot is the non-blocking view returned by the orchestrator's
// Status call.
type RunSnapshot struct {
	IsRunning      bool      `json:"is_running"`
	Status         RunStatus `json:"status"`
	CurrentTerm    string    `json:"current_term"`
	TermIndex      int       `json:"term_index"`
	CompletedCount int       `json:"completed_count"`
	ErrorCount     int       `json:"error_count"`
	StartedAt      time.Time `json:"started_at"`
}
