package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomHex returns n random bytes as lowercase hex.
func RandomHex(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read does not fail on supported platforms
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
