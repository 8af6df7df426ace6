package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the hex digest of the given bytes. Reports use it to identify
// the exact artifact contents a finding was produced from.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
