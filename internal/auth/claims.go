package auth

import (
	"time"
)

// Claims are the claims carried by a local API token. Tokens are v4.local,
// so the claims are encrypted.
type Claims struct {
	ClientName string `json:"client_name"`

	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	Audience   string    `json:"aud"`
	Expiration time.Time `json:"exp"`
	NotBefore  time.Time `json:"nbf"`
	IssuedAt   time.Time `json:"iat"`
	TokenID    string    `json:"jti"`
}
