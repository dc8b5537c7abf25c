package websocket

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionID identifies one physical connection. It is the membership key
// inside a room.
type ConnectionID string

// NewConnectionID returns a fresh, globally unique connection ID.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// LocaleHints are auxiliary per-participant preferences. The relay carries
// them but never interprets them.
type LocaleHints struct {
	TranslateTo  string `json:"translate_to"`
	TranscribeTo string `json:"transcribe_to"`
}

// Participant is one admitted, live connection inside a room.
type Participant struct {
	ID         ConnectionID
	Room       string
	Name       string
	Locale     LocaleHints
	RemoteAddr string
	JoinedAt   time.Time

	outbox *Outbox
	seq    uint64 // join order, assigned by the registry
}

// NewParticipant creates a participant with its own outbound queue.
func NewParticipant(id ConnectionID, room, name string, locale LocaleHints) *Participant {
	return &Participant{
		ID:       id,
		Room:     room,
		Name:     name,
		Locale:   locale,
		JoinedAt: time.Now().UTC(),
		outbox:   NewOutbox(),
	}
}

// Outbox returns the participant's outbound queue.
func (p *Participant) Outbox() *Outbox {
	return p.outbox
}
