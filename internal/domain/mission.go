package domain

import (
	"encoding/json"
	"time"
)

// MissionType enumerates supported generation mission categories.
type MissionType string

const (
	MissionTypeImage MissionType = "image_generation"
	MissionTypeVideo MissionType = "video_generation"
)

// Valid reports whether the type is one the scheduler knows how to run.
func (t MissionType) Valid() bool {
	return t == MissionTypeImage || t == MissionTypeVideo
}

// MissionStatus enumerates mission lifecycle states.
type MissionStatus string

const (
	MissionStatusPending    MissionStatus = "pending"
	MissionStatusInProgress MissionStatus = "in_progress"
	MissionStatusCompleted  MissionStatus = "completed"
	MissionStatusFailed     MissionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s MissionStatus) Terminal() bool {
	return s == MissionStatusCompleted || s == MissionStatusFailed
}

// Mission tracks a single asynchronous generation request end-to-end.
//
// The ledger never embeds result payloads; ResultPresent signals that the
// result store holds an entry under the mission id. Operation carries the
// remote long-running operation handle verbatim so an interrupted video
// mission resumes polling instead of resubmitting.
type Mission struct {
	ID              string          `json:"id"`
	Type            MissionType     `json:"type"`
	Prompt          string          `json:"prompt"`
	Status          MissionStatus   `json:"status"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	ResultPresent   bool            `json:"result_present"`
	ErrorMessage    string          `json:"error,omitempty"`
	Operation       json.RawMessage `json:"operation,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
