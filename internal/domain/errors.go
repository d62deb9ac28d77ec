package domain

import "errors"

// Vault and session errors. Messages are user-visible descriptions.
var (
	ErrInvalidAmount         = errors.New("invalid vault amount")
	ErrInvalidDuration       = errors.New("invalid session duration")
	ErrVaultInactive         = errors.New("vault is not active")
	ErrSessionExpired        = errors.New("session has expired")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrOverflow              = errors.New("overflow in arithmetic")
	ErrUnauthorized          = errors.New("unauthorized access")
	ErrInvalidDelegate       = errors.New("invalid delegate")
	ErrInvalidSession        = errors.New("invalid session")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrSuspiciousActivity    = errors.New("suspicious activity detected")
	ErrCrypto                = errors.New("encryption error")
	ErrSessionNotExpired     = errors.New("session not yet expired")
	ErrNotFound              = errors.New("not found")
	ErrDelegationNotActive   = errors.New("delegation not active")
	ErrApprovedLimitExceeded = errors.New("approved limit exceeded")
	ErrVaultExists           = errors.New("vault already exists")
	ErrVaultNotCleaned       = errors.New("vault has not been cleaned up")
	ErrSessionLimitReached   = errors.New("maximum concurrent sessions reached")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInternal              = errors.New("internal error")
)

// kinds maps each sentinel to its stable machine-readable kind.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidDuration, "InvalidDuration"},
	{ErrVaultInactive, "VaultInactive"},
	{ErrSessionExpired, "SessionExpired"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrOverflow, "Overflow"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidDelegate, "InvalidDelegate"},
	{ErrInvalidSession, "InvalidSession"},
	{ErrRateLimitExceeded, "RateLimitExceeded"},
	{ErrSuspiciousActivity, "SuspiciousActivity"},
	{ErrCrypto, "CryptoError"},
	{ErrSessionNotExpired, "SessionNotExpired"},
	{ErrNotFound, "NotFound"},
	{ErrDelegationNotActive, "DelegationNotActive"},
	{ErrApprovedLimitExceeded, "ApprovedLimitExceeded"},
	{ErrVaultExists, "VaultExists"},
	{ErrVaultNotCleaned, "VaultNotCleaned"},
	{ErrSessionLimitReached, "SessionLimitReached"},
	{ErrInvalidRequest, "InvalidRequest"},
	{ErrInternal, "Internal"},
}

// KindInternal is returned by Kind for errors outside the taxonomy.
const KindInternal = "Internal"

// Kind returns the machine-readable kind of err.
// Errors that wrap no known sentinel are reported as Internal.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Describe returns the human description of err's kind.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err.Error()
		}
	}
	return ErrInternal.Error()
}
