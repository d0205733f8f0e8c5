package domain

import "time"

type SessionEventType string

const (
	EventLocalCandidate SessionEventType = "local_candidate"
	EventStatusChanged  SessionEventType = "status"
	EventSessionClosed  SessionEventType = "closed"
)

type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	SessionID SessionID        `json:"session_id"`
	Status    SessionStatus    `json:"status,omitempty"`
	Candidate *IceCandidate    `json:"candidate,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
