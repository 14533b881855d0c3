package domain

import "time"

// AuthSession is the signed-in account's credential state.
// ExpiresAt is epoch milliseconds; zero means unknown (fall back to the token's exp claim).
type AuthSession struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
	ShareTags    bool   `json:"shareTags"`
}

// Expiry returns ExpiresAt as a time, or the zero time when unknown.
func (s *AuthSession) Expiry() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAt)
}

// User is the public part of a session, safe to broadcast.
type User struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// User returns the public identity of the session.
func (s *AuthSession) User() *User {
	return &User{UID: s.UID, Email: s.Email}
}
