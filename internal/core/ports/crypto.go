package ports

import "deskbridge/internal/core/domain"

// SecureChannel performs key agreement for one session and seals control frames.
type SecureChannel interface {
	GenerateKeypair() ([]byte, error)
	Exchange(peerPublicKey []byte) error
	Ready() bool
	Seal(plaintext []byte) ([]byte, error)
	Open(frame []byte) ([]byte, error)
	Fingerprint() (string, error)
}

type SecureChannelFactory interface {
	NewChannel(sessionID domain.SessionID) SecureChannel
}
