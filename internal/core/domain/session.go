package domain

import (
	"fmt"
	"time"
)

type SessionID string
type PeerID string

type SessionStatus string

const (
	StatusCreated      SessionStatus = "created"
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusError        SessionStatus = "error"
)

// sessionTransitions lists the statuses reachable from each status.
// Nothing returns to Created.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	StatusCreated:      {StatusConnecting, StatusConnected, StatusDisconnected, StatusError},
	StatusConnecting:   {StatusConnecting, StatusConnected, StatusDisconnected, StatusError},
	StatusConnected:    {StatusConnecting, StatusConnected, StatusDisconnected, StatusError},
	StatusDisconnected: {StatusConnecting, StatusConnected, StatusDisconnected, StatusError},
	StatusError:        {StatusConnecting, StatusConnected, StatusDisconnected, StatusError},
}

func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next when the move is legal, otherwise ErrInvalidTransition.
func (s SessionStatus) Transition(next SessionStatus) (SessionStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

type SDPType string

const (
	SDPTypeOffer    SDPType = "offer"
	SDPTypeAnswer   SDPType = "answer"
	SDPTypePranswer SDPType = "pranswer"
	SDPTypeRollback SDPType = "rollback"
)

func ParseSDPType(s string) (SDPType, error) {
	switch t := SDPType(s); t {
	case SDPTypeOffer, SDPTypeAnswer, SDPTypePranswer, SDPTypeRollback:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown sdp type %q", ErrInputValidation, s)
	}
}

type IceCandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// SessionSnapshot is a read-only copy of a session's state.
type SessionSnapshot struct {
	ID              SessionID      `json:"id"`
	PeerID          PeerID         `json:"peer_id"`
	Status          SessionStatus  `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	Duration        time.Duration  `json:"duration"`
	LocalSDP        *string        `json:"local_sdp,omitempty"`
	RemoteSDP       *string        `json:"remote_sdp,omitempty"`
	IceCandidates   []IceCandidate `json:"ice_candidates"`
	Streaming       bool           `json:"streaming"`
	InputEnabled    bool           `json:"input_enabled"`
	EncryptionReady bool           `json:"encryption_ready"`
	Stats           StreamStats    `json:"stats"`
	StreamConfig    StreamConfig   `json:"stream_config"`
	ScreenIndex     int            `json:"screen_index"`
}
