package securechannel

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// FrameVersion is the only sealed frame version understood. It is bound
// into the AEAD additional data together with the session id.
const FrameVersion uint8 = 1

const keySize = 32

// hkdfInfo prefixes the sorted public keys in the HKDF info parameter.
var hkdfInfo = []byte("deskbridge control v1")

var (
	ErrNoKeypair        = errors.New("no keypair generated for this session")
	ErrNotReady         = errors.New("key exchange has not completed")
	ErrInvalidPublicKey = errors.New("invalid public key length (expected 32 bytes)")
	ErrFrameVersion     = errors.New("unsupported sealed frame version")
)

// SealedFrame is the CBOR envelope carried on the control data channel.
type SealedFrame struct {
	Version    uint8  `cbor:"v"`
	Nonce      []byte `cbor:"nonce"`
	Ciphertext []byte `cbor:"ct"`
}

// Channel holds one session's X25519 keypair and, after a successful
// exchange, the derived XChaCha20-Poly1305 key. It is safe for concurrent use.
type Channel struct {
	sessionID domain.SessionID

	mu         sync.Mutex
	privateKey []byte
	publicKey  []byte

	// set by Exchange; survives a later GenerateKeypair until the next Exchange
	aead        cipher.AEAD
	fingerprint string
}

func NewChannel(sessionID domain.SessionID) *Channel {
	return &Channel{sessionID: sessionID}
}

// GenerateKeypair creates a fresh keypair and returns the public key.
func (c *Channel) GenerateKeypair() ([]byte, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, fmt.Errorf("generating private key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}

	c.mu.Lock()
	c.privateKey = priv
	c.publicKey = pub
	c.mu.Unlock()

	out := make([]byte, len(pub))
	copy(out, pub)
	return out, nil
}

// Exchange derives the session key from the local keypair and the peer's
// public key. A failed exchange leaves any previously derived key in place.
func (c *Channel) Exchange(peerPublicKey []byte) error {
	if len(peerPublicKey) != curve25519.PointSize {
		return ErrInvalidPublicKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.privateKey == nil {
		return ErrNoKeypair
	}

	// X25519 rejects low-order points by returning an all-zero output error.
	shared, err := curve25519.X25519(c.privateKey, peerPublicKey)
	if err != nil {
		return fmt.Errorf("key agreement: %w", err)
	}

	low, high := orderKeys(c.publicKey, peerPublicKey)
	info := make([]byte, 0, len(hkdfInfo)+len(low)+len(high))
	info = append(info, hkdfInfo...)
	info = append(info, low...)
	info = append(info, high...)

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, []byte(c.sessionID), info), key); err != nil {
		return fmt.Errorf("deriving session key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	sum := blake3.Sum256(append(append([]byte{}, low...), high...))
	c.aead = aead
	c.fingerprint = formatFingerprint(sum[:])
	return nil
}

func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aead != nil
}

// Seal encrypts plaintext into a CBOR SealedFrame.
func (c *Channel) Seal(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	aead := c.aead
	c.mu.Unlock()
	if aead == nil {
		return nil, ErrNotReady
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	frame := SealedFrame{
		Version:    FrameVersion,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, c.additionalData(FrameVersion)),
	}
	return cbor.Marshal(frame)
}

// Open decodes and authenticates a SealedFrame produced by the peer.
func (c *Channel) Open(data []byte) ([]byte, error) {
	c.mu.Lock()
	aead := c.aead
	c.mu.Unlock()
	if aead == nil {
		return nil, ErrNotReady
	}

	var frame SealedFrame
	if err := cbor.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decoding sealed frame: %w", err)
	}
	if frame.Version != FrameVersion {
		return nil, fmt.Errorf("%w: %d", ErrFrameVersion, frame.Version)
	}
	if len(frame.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("sealed frame nonce is %d bytes, expected %d", len(frame.Nonce), chacha20poly1305.NonceSizeX)
	}

	plaintext, err := aead.Open(nil, frame.Nonce, frame.Ciphertext, c.additionalData(frame.Version))
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed: %w", err)
	}
	return plaintext, nil
}

// Fingerprint is the BLAKE3 digest of both public keys, for out-of-band
// verification.
func (c *Channel) Fingerprint() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aead == nil {
		return "", ErrNotReady
	}
	return c.fingerprint, nil
}

func (c *Channel) additionalData(version uint8) []byte {
	aad := make([]byte, 0, 1+len(c.sessionID))
	aad = append(aad, version)
	return append(aad, c.sessionID...)
}

func orderKeys(a, b []byte) ([]byte, []byte) {
	if bytes.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

// formatFingerprint renders the first 16 bytes as colon separated hex pairs
// of two bytes each.
func formatFingerprint(sum []byte) string {
	encoded := hex.EncodeToString(sum[:16])
	var buf bytes.Buffer
	for i := 0; i < len(encoded); i += 4 {
		if i > 0 {
			buf.WriteByte(':')
		}
		buf.WriteString(encoded[i : i+4])
	}
	return buf.String()
}

// Factory hands out one Channel per session.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NewChannel(sessionID domain.SessionID) ports.SecureChannel {
	return NewChannel(sessionID)
}
