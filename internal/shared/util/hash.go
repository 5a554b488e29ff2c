package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex sha256 of data. Parsed documents carry it so
// re-uploads of the same file can be recognised.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
