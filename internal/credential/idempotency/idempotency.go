// Package idempotency remembers issuance requests by caller-supplied key so a
// retried submission returns the original receipt instead of minting again.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"microcred/internal/credential/models"
)

// DefaultTTL is how long a key is remembered when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Entry is the stored state of one key. It holds either a Receipt, an
// UnrecordedMint, or neither while the first request is still in flight.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Receipt     *models.Receipt `json:"receipt,omitempty"`
	// UnrecordedMint is set when the mint landed on the ledger but its record
	// could not be written. The key stays taken so a retry cannot mint again.
	UnrecordedMint string `json:"unrecordedMint,omitempty"`
}

// InFlight reports whether the original request has not finished yet.
func (e *Entry) InFlight() bool {
	return e.Receipt == nil && e.UnrecordedMint == ""
}

// Fingerprint identifies the payload of an issuance so a key reused with a
// different payload can be told apart from a genuine retry.
func Fingerprint(req *models.IssueRequest) string {
	h := sha256.New()
	for _, part := range []string{req.UserID, req.Title, req.RecipientAddress} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ScopedKey namespaces a caller key by user. The user id is length-prefixed
// so no (user, key) pair can spell another pair's scoped key.
func ScopedKey(userID, key string) string {
	return strconv.Itoa(len(userID)) + ":" + userID + ":" + key
}
