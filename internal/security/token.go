package security

import (
	"crypto/rand"
	"encoding/base64"
)

// tokenRawSize gives 256 bits of entropy per token value.
const tokenRawSize = 32

// NewOpaqueToken returns a cryptographically random token value encoded as
// unpadded base64url. Token values are opaque to clients and verified only
// against the store.
func NewOpaqueToken() (string, error) {
	raw := make([]byte, tokenRawSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
