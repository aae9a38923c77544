package session

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// ValidStatus reports whether s is one of the recording statuses. It says
// nothing about transition legality; any status may follow any other.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRecording, StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Record is one recording attempt, coordinated across the requester tab,
// the agent popup, and the server. Description, Metadata and LinkCode are a
// snapshot of the requester form taken at creation time, because the agent
// popup has no access to the requester tab's in-memory state.
type Record struct {
	SessionID     string
	Status        Status
	VideoURL      string
	CreatedAt     time.Time
	CompletedAt   time.Time
	StopRequested bool
	Description   string
	Metadata      json.RawMessage
	LinkCode      string
}
