package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of a server-generated message.
type MessageType string

const (
	TypeHandshakeStatus MessageType = "ws_handshake_status"
	TypeCount           MessageType = "count"
	TypeParticipants    MessageType = "participants"
)

// HandshakeStatus values carried by lifecycle messages.
const (
	StatusConnected = "connected"
	StatusClose     = "close"
)

// LifecycleMessage announces a join or a departure.
type LifecycleMessage struct {
	Type      MessageType `json:"type"`
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Message   string      `json:"message"`
}

// CountMessage carries the room's membership size.
type CountMessage struct {
	Type  MessageType `json:"type"`
	Count int         `json:"count"`
}

// ParticipantsMessage carries the display names of the room's members.
type ParticipantsMessage struct {
	Type         MessageType `json:"type"`
	Participants []string    `json:"participants"`
}

// NewLifecycleMessage creates a lifecycle message stamped with t in RFC 3339.
func NewLifecycleMessage(status, text string, t time.Time) LifecycleMessage {
	return LifecycleMessage{
		Type:      TypeHandshakeStatus,
		Status:    status,
		Timestamp: t.UTC().Format(time.RFC3339Nano),
		Message:   text,
	}
}

// NewCountMessage creates a count message.
func NewCountMessage(n int) CountMessage {
	return CountMessage{Type: TypeCount, Count: n}
}

// NewParticipantsMessage creates a participant list message. A nil list is
// encoded as an empty array.
func NewParticipantsMessage(names []string) ParticipantsMessage {
	if names == nil {
		names = []string{}
	}
	return ParticipantsMessage{Type: TypeParticipants, Participants: names}
}

func welcomeText(room string) string { return fmt.Sprintf("You joined the room '%s'", room) }
func peerJoinedText(name string) string { return fmt.Sprintf("%s joined the room", name) }
func farewellText(room string) string { return fmt.Sprintf("You left the room '%s'", room) }
func peerLeftText(name string) string { return fmt.Sprintf("%s left the room", name) }
func nameInUseText(name string) string { return fmt.Sprintf("Name '%s' is already in use", name) }

// encode serializes a server message into a text frame.
func encode(msg any) (Frame, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %T: %w", msg, err)
	}
	return TextMessage(data), nil
}
