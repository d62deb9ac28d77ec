// Package custody generates and seals ephemeral key material and issues
// sessions bound to a vault and a network origin.
package custody

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/domain"
)

// DefaultNearExpiry is the default near-expiry threshold.
const DefaultNearExpiry = 300 * time.Second

// Options configures a Custodian.
type Options struct {
	MasterSecret string
	Cipher       string // CipherAESGCM (default) or CipherChaCha20Poly1305
	MaxSessions  int    // 0 means unlimited
	Clock        clock.Clock
}

// SessionRequest holds the parameters of a new session.
type SessionRequest struct {
	Owner             string
	VaultAddress      string
	Origin            string
	DeviceFingerprint *string
	Duration          time.Duration
}

// Custodian owns the sealing key and tracks issued sessions.
// Safe for concurrent use.
type Custodian struct {
	sealer      *Sealer
	clock       clock.Clock
	maxSessions int

	mu     sync.Mutex
	issued map[string]time.Time // session id -> expires at
}

// NewCustodian creates a Custodian.
func NewCustodian(opts Options) (*Custodian, error) {
	sealer, err := NewSealer(opts.Cipher, opts.MasterSecret)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Custodian{
		sealer:      sealer,
		clock:       opts.Clock,
		maxSessions: opts.MaxSessions,
		issued:      make(map[string]time.Time),
	}, nil
}

// GenerateIdentity creates a fresh ed25519 keypair and returns the base58
// public key with the sealed 64-byte private key. The unsealed secret never
// leaves this function.
func (c *Custodian) GenerateIdentity() (publicIdentity, encryptedSecret string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w: %v", domain.ErrCrypto, err)
	}
	sealed, err := c.sealer.Seal(priv)
	if err != nil {
		return "", "", err
	}
	return base58.Encode(pub), sealed, nil
}

// OpenIdentity unseals a secret produced by GenerateIdentity.
func (c *Custodian) OpenIdentity(encrypted string) ([]byte, error) {
	return c.sealer.Open(encrypted)
}

// CreateSession issues a new session with a fresh ephemeral identity.
// Returns ErrSessionLimitReached when the concurrent session cap is hit.
func (c *Custodian) CreateSession(req SessionRequest) (*domain.Session, error) {
	if req.Duration <= 0 {
		return nil, domain.ErrInvalidDuration
	}
	if req.Owner == "" || req.Origin == "" {
		return nil, fmt.Errorf("owner and origin required: %w", domain.ErrInvalidRequest)
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(now)
	if c.maxSessions > 0 && len(c.issued) >= c.maxSessions {
		return nil, fmt.Errorf("%d sessions issued: %w", len(c.issued), domain.ErrSessionLimitReached)
	}

	pub, sealed, err := c.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	s := &domain.Session{
		ID:                uuid.NewString(),
		Owner:             req.Owner,
		VaultAddress:      req.VaultAddress,
		EphemeralIdentity: pub,
		EncryptedSecret:   sealed,
		CreatedAt:         now,
		ExpiresAt:         now.Add(req.Duration),
		LastActivityAt:    now,
		IsActive:          true,
		OriginAddress:     req.Origin,
	}
	if req.DeviceFingerprint != nil {
		fp := *req.DeviceFingerprint
		s.DeviceFingerprint = &fp
	}
	c.issued[s.ID] = s.ExpiresAt
	return s, nil
}

// VerifySession checks that s is active, unexpired and used from the
// origin that created it.
func (c *Custodian) VerifySession(s *domain.Session, currentOrigin string) error {
	if s == nil || !s.IsActive {
		return domain.ErrInvalidSession
	}
	if c.clock.Now().After(s.ExpiresAt) {
		return domain.ErrSessionExpired
	}
	if currentOrigin != s.OriginAddress {
		return domain.ErrUnauthorized
	}
	return nil
}

// IsNearExpiry reports whether s expires within threshold.
// A zero threshold uses DefaultNearExpiry.
func (c *Custodian) IsNearExpiry(s *domain.Session, threshold time.Duration) bool {
	if threshold == 0 {
		threshold = DefaultNearExpiry
	}
	return s.ExpiresAt.Sub(c.clock.Now()) < threshold
}

// Revoke marks s inactive and releases its issuance slot.
// It does not reclaim ledger funds.
func (c *Custodian) Revoke(s *domain.Session) {
	s.IsActive = false
	c.Release(s.ID)
}

// Release frees the issuance slot of a session id.
func (c *Custodian) Release(sessionID string) {
	c.mu.Lock()
	delete(c.issued, sessionID)
	c.mu.Unlock()
}

// Restore re-registers a persisted active session after a restart.
func (c *Custodian) Restore(s *domain.Session) {
	if !s.IsActive {
		return
	}
	c.mu.Lock()
	c.issued[s.ID] = s.ExpiresAt
	c.mu.Unlock()
}

// ActiveSessions returns the number of unexpired issued sessions.
func (c *Custodian) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.clock.Now())
	return len(c.issued)
}

func (c *Custodian) pruneLocked(now time.Time) {
	for id, exp := range c.issued {
		if now.After(exp) {
			delete(c.issued, id)
		}
	}
}

// Sign opens the sealed ed25519 secret and signs message.
func (c *Custodian) Sign(encryptedSecret string, message []byte) ([]byte, error) {
	secret, err := c.sealer.Open(encryptedSecret)
	if err != nil {
		return nil, err
	}
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("secret of %d bytes: %w", len(secret), domain.ErrCrypto)
	}
	return ed25519.Sign(ed25519.PrivateKey(secret), message), nil
}

// VerifySignature checks an ed25519 signature against a base58 public identity.
func VerifySignature(publicIdentity string, message, signature []byte) error {
	pub, err := base58.Decode(publicIdentity)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("public identity %q: %w", publicIdentity, domain.ErrCrypto)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, signature) {
		return fmt.Errorf("signature mismatch: %w", domain.ErrCrypto)
	}
	return nil
}
