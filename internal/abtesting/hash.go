package abtesting

import (
	"crypto/sha256"
	"encoding/binary"
)

// bucketValue computes hash(userID||experimentID) / 2^32, a deterministic
// value in [0,1) used for both admission and hash-based variant selection.
func bucketValue(userID, experimentID string) float64 {
	sum := sha256.Sum256([]byte(userID + "|" + experimentID))
	n := binary.BigEndian.Uint32(sum[:4])
	return float64(n) / float64(1<<32)
}
