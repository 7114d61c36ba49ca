package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const checksumPrefix = "sha256:"

// ComputeChecksum computes a SHA256 checksum for a data file.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
// An empty expectation always passes; files written by other engines
// carry no checksum tag.
func VerifyChecksum(data []byte, expected string) bool {
	if expected == "" {
		return true
	}
	if !strings.HasPrefix(expected, checksumPrefix) {
		return false
	}
	return ComputeChecksum(data) == expected
}
