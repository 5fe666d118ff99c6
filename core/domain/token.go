package domain

import "time"

// RefreshBuffer is subtracted from the access token lifetime: a token within
// this window of expiry is treated as already expired and refreshed eagerly.
const RefreshBuffer = 300 * time.Second

// RefreshTokenLifetime is the assumed validity of a Microsoft refresh token.
const RefreshTokenLifetime = 90 * 24 * time.Hour

// AccountToken is the single token row per group. RefreshToken is never
// cleared by a refresh: when the provider omits a rotated refresh token the
// previous value is retained.
type AccountToken struct {
	GroupID      string
	AccessToken  string
	RefreshToken string
	IDToken      string
	ATExpiresAt  int64 // epoch seconds
	RTExpiresAt  int64 // epoch seconds
	Scope        string
	TenantID     string
	UpdatedAt    time.Time
}

// Expired reports whether the access token is expired or inside the refresh
// buffer at the given instant.
func (t *AccountToken) Expired(now time.Time) bool {
	return now.Add(RefreshBuffer).Unix() >= t.ATExpiresAt
}

// TokenTriple is the result of a token acquisition (login automation or
// refresh endpoint) before persistence.
type TokenTriple struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	Scope        string
	TenantID     string
}
