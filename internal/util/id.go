package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a short random hex ID for request and job correlation.
// Call records use UUIDs instead; those come from the app layer.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
