package cryptobox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeBase64URL returns the URL-safe base64 encoding of b without padding.
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URL decodes URL-safe base64. Trailing padding is accepted but
// not required.
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// RandomID returns n random bytes encoded as unpadded base64url.
func RandomID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return EncodeBase64URL(b), nil
}
