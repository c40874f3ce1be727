package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdMonitorNow        CommandType = "monitor_now"
	CmdStop              CommandType = "stop"
	CmdSetTerms          CommandType = "set_terms"
	CmdCheckAvailability CommandType = "check_availability"
	CmdCheckPrices       CommandType = "check_prices"
	CmdUploadScreenshots CommandType = "upload_screenshots"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Terms []string `json:"terms,omitempty"`
}
