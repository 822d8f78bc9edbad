package models

import "time"

// CachedToken is the serialized form of a bearer token in the keyed store.
// Entries are replaced on refresh, never mutated in place.
type CachedToken struct {
	Token        string `json:"token"`
	CachedAt     int64  `json:"cached_at"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Usable reports whether the token is still valid at now, keeping the
// safety margin clear of the real expiry. Entries without expiry metadata
// are trusted as-is.
func (t CachedToken) Usable(now time.Time) bool {
	if t.Token == "" {
		return false
	}
	if t.ExpiresIn == 0 || t.CachedAt == 0 {
		return true
	}
	expiresAt := t.CachedAt + t.ExpiresIn
	return now.Unix() < expiresAt-TokenSafetyMarginSeconds
}

// RefreshBackoff tracks the cool-down applied after failed token refreshes.
// It is cleared on the first successful refresh.
type RefreshBackoff struct {
	NextAllowedAt int64 `json:"next_allowed_at"`
	Attempts      int   `json:"attempts"`
}

// InCoolDown reports whether refresh attempts are currently suppressed.
func (b RefreshBackoff) InCoolDown(now time.Time) bool {
	return b.NextAllowedAt > now.Unix()
}
