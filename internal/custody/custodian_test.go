package custody

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/domain"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newCustodian(t *testing.T, maxSessions int) (*Custodian, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(t0)
	c, err := NewCustodian(Options{MasterSecret: "master", MaxSessions: maxSessions, Clock: clk})
	require.NoError(t, err)
	return c, clk
}

func TestGenerateIdentity_RoundTrip(t *testing.T) {
	c, _ := newCustodian(t, 0)

	pub, sealed, err := c.GenerateIdentity()
	require.NoError(t, err)

	secret, err := c.OpenIdentity(sealed)
	require.NoError(t, err)
	require.Len(t, secret, ed25519.PrivateKeySize)

	derived := ed25519.PrivateKey(secret).Public().(ed25519.PublicKey)
	assert.Equal(t, pub, base58.Encode(derived))

	pub2, sealed2, err := c.GenerateIdentity()
	require.NoError(t, err)
	assert.NotEqual(t, pub, pub2)
	assert.NotEqual(t, sealed, sealed2)
}

func TestCreateSession(t *testing.T) {
	c, _ := newCustodian(t, 0)
	fp := "abc"

	s, err := c.CreateSession(SessionRequest{
		Owner:             "owner",
		VaultAddress:      "vault1",
		Origin:            "10.0.0.1",
		DeviceFingerprint: &fp,
		Duration:          time.Hour,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, t0, s.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), s.ExpiresAt)
	assert.True(t, s.IsActive)
	assert.Zero(t, s.AvailableAmount)
	assert.Zero(t, s.TotalDeposited)
	assert.NotEmpty(t, s.EphemeralIdentity)
	require.NotNil(t, s.DeviceFingerprint)
	assert.Equal(t, "abc", *s.DeviceFingerprint)

	_, err = c.OpenIdentity(s.EncryptedSecret)
	assert.NoError(t, err)

	_, err = c.CreateSession(SessionRequest{Owner: "owner", Origin: "x", Duration: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)
	_, err = c.CreateSession(SessionRequest{Owner: "owner", Duration: time.Hour})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCreateSession_Limit(t *testing.T) {
	c, clk := newCustodian(t, 2)
	req := SessionRequest{Owner: "owner", Origin: "o", Duration: time.Hour}

	s1, err := c.CreateSession(req)
	require.NoError(t, err)
	_, err = c.CreateSession(SessionRequest{Owner: "owner", Origin: "o", Duration: 2 * time.Hour})
	require.NoError(t, err)

	_, err = c.CreateSession(req)
	assert.ErrorIs(t, err, domain.ErrSessionLimitReached)
	assert.Equal(t, 2, c.ActiveSessions())

	c.Revoke(s1)
	assert.False(t, s1.IsActive)
	_, err = c.CreateSession(req)
	require.NoError(t, err)

	// Expired sessions release their slot.
	clk.Advance(time.Hour + time.Second)
	assert.Equal(t, 1, c.ActiveSessions())
	_, err = c.CreateSession(req)
	assert.NoError(t, err)
}

func TestVerifySession(t *testing.T) {
	c, clk := newCustodian(t, 0)
	s, err := c.CreateSession(SessionRequest{Owner: "owner", Origin: "10.0.0.1", Duration: time.Hour})
	require.NoError(t, err)

	assert.NoError(t, c.VerifySession(s, "10.0.0.1"))
	assert.ErrorIs(t, c.VerifySession(s, "10.0.0.2"), domain.ErrUnauthorized)

	clk.Advance(time.Hour)
	assert.NoError(t, c.VerifySession(s, "10.0.0.1"), "exactly at expiry is still valid")
	clk.Advance(time.Second)
	assert.ErrorIs(t, c.VerifySession(s, "10.0.0.1"), domain.ErrSessionExpired)

	s.IsActive = false
	assert.ErrorIs(t, c.VerifySession(s, "10.0.0.1"), domain.ErrInvalidSession)
	assert.ErrorIs(t, c.VerifySession(nil, "10.0.0.1"), domain.ErrInvalidSession)
}

func TestIsNearExpiry(t *testing.T) {
	c, clk := newCustodian(t, 0)
	s, err := c.CreateSession(SessionRequest{Owner: "owner", Origin: "o", Duration: time.Hour})
	require.NoError(t, err)

	assert.False(t, c.IsNearExpiry(s, 0))
	clk.Advance(time.Hour - 301*time.Second)
	assert.False(t, c.IsNearExpiry(s, 0))
	clk.Advance(time.Second)
	assert.False(t, c.IsNearExpiry(s, 0), "exactly at the threshold is not near expiry")
	clk.Advance(time.Second)
	assert.True(t, c.IsNearExpiry(s, 0))
	assert.True(t, c.IsNearExpiry(s, 10*time.Minute))
	assert.False(t, c.IsNearExpiry(s, time.Minute))
}

func TestSignAndVerify(t *testing.T) {
	c, _ := newCustodian(t, 0)
	pub, sealed, err := c.GenerateIdentity()
	require.NoError(t, err)

	msg := []byte("transfer 1000 lamports")
	sig, err := c.Sign(sealed, msg)
	require.NoError(t, err)

	assert.NoError(t, VerifySignature(pub, msg, sig))
	assert.ErrorIs(t, VerifySignature(pub, []byte("other"), sig), domain.ErrCrypto)
	assert.ErrorIs(t, VerifySignature("bad", msg, sig), domain.ErrCrypto)

	_, err = c.Sign("garbage", msg)
	assert.ErrorIs(t, err, domain.ErrCrypto)
}
