package ledger

import (
	"crypto/sha256"
	"encoding/binary"

	base58 "github.com/jbenet/go-base58"
)

// DefaultProgramID is the deployed batch-tracking program.
const DefaultProgramID = "FmdwhFLmtZmHvMu8rpCv2tmURGhmZvxtZcEDQXN5Si74"

const (
	batchSeed = "batch"
	stageSeed = "stage"
)

// deriveAddress computes a program-derived account address: the sha256
// of the seed components followed by the raw program id, base58-encoded.
// The derivation is deterministic, so any party holding the same inputs
// arrives at the same address without a ledger round trip.
func deriveAddress(programID string, seeds ...[]byte) string {
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(base58.Decode(programID))
	return base58.Encode(h.Sum(nil))
}

// BatchAddress derives the account address for a batch from its
// human-readable id (e.g. "FSN-2025-001").
func BatchAddress(programID, batchID string) string {
	return deriveAddress(programID, []byte(batchSeed), []byte(batchID))
}

// StageAddress derives the account address for the stage at the given
// index of a batch. The index is encoded as little-endian uint16, which
// bounds a batch at 65536 stages.
func StageAddress(programID, batchAddress string, index uint16) string {
	var le [2]byte
	binary.LittleEndian.PutUint16(le[:], index)
	return deriveAddress(programID, []byte(stageSeed), base58.Decode(batchAddress), le[:])
}

// ValidPublicKey reports whether s is a well-formed account key: base58
// text decoding to exactly 32 bytes.
func ValidPublicKey(s string) bool {
	return len(base58.Decode(s)) == 32
}
