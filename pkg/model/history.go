package model

import "github.com/google/uuid"

// SessionID identifies one conversation transcript written by the agent runtime
type SessionID string

// NewSessionID generates a new random SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func (x SessionID) String() string {
	return string(x)
}

// TimelineEntry is one line of the tier-0 timeline
type TimelineEntry struct {
	TSID    TSID
	Summary string
}

// DecisionEntry is one bullet of the tier-1 decision log
type DecisionEntry struct {
	TSID TSID
	Text string
}

// Role of a transcript message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a user or assistant turn extracted from a session transcript
type Message struct {
	Role Role
	Text string
}
