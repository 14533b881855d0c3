// Package id generates prefixed identifiers for highlights, tags and stream clients.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the identifiers this application mints.
const (
	PrefixHighlight = "hl"
	PrefixTag       = "tag"
	PrefixClient    = "sse"
	PrefixOrigin    = "kv"
)

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "hl-V1StGXR8_Z5jdHi6B-myT").
//
// Returns an error if the system has insufficient entropy.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// Highlight returns a new highlight ID.
func Highlight() string {
	return MustGenerate(PrefixHighlight)
}

// Tag returns a new tag ID.
func Tag() string {
	return MustGenerate(PrefixTag)
}
