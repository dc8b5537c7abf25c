// Package models contains the persisted records of the session ledger.
package models

import (
	"time"
)

// Session records one admitted connection from join to leave.
type Session struct {
	ID               string     `json:"id"`
	ConnectionID     string     `json:"connection_id"`
	Room             string     `json:"room"`
	DisplayName      string     `json:"display_name"`
	TranslateTo      string     `json:"translate_to"`
	TranscribeTo     string     `json:"transcribe_to"`
	RemoteAddr       string     `json:"remote_addr"`
	JoinedAt         time.Time  `json:"joined_at"`
	LeftAt           *time.Time `json:"left_at,omitempty"`
	MessagesReceived int64      `json:"messages_received"`
	MessagesSent     int64      `json:"messages_sent"`
	EndReason        *string    `json:"end_reason,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool {
	return s.LeftAt == nil
}

// Session end reasons
const (
	EndReasonDisconnected = "disconnected"
	EndReasonShutdown     = "shutdown"
	EndReasonOrphaned     = "orphaned" // left open by a previous process
)

// SessionTotals aggregates the ledger.
type SessionTotals struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	Rejections int `json:"rejections"`
}
