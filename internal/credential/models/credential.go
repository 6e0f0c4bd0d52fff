package models

import (
	"strings"
	"time"

	dErrors "microcred/pkg/domain-errors"
)

// Field limits for issuance input.
const (
	MaxUserIDLength = 128
	MaxTitleLength  = 256
)

// Mode tells whether a credential was minted on the ledger or simulated.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeChain     Mode = "chain"
)

// Record is the persisted credential.
//
// Invariants:
//   - CertID, UserID, Title and TxHash are non-empty
//   - CertID is assigned at construction and never changes
//   - Metadata is present only for chain-backed credentials
//   - Records are append-only: there is no update or delete path
type Record struct {
	CertID     string    `json:"certId"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	TxHash     string    `json:"txHash"`
	DateIssued time.Time `json:"dateIssued"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// Metadata describes the on-ledger side of a chain-backed credential.
type Metadata struct {
	Issuer       string    `json:"issuer"`
	Recipient    string    `json:"recipient"`
	Mint         string    `json:"mint"`
	TokenAccount string    `json:"tokenAccount"`
	Signature    string    `json:"signature"`
	Title        string    `json:"title"`
	UserID       string    `json:"userId"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// NewRecord builds a Record, enforcing its invariants.
func NewRecord(certID, userID, title, txHash string, issuedAt time.Time, metadata *Metadata) (*Record, error) {
	if certID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certId is required")
	}
	if userID == "" || title == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "userId and title are required")
	}
	if txHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "txHash is required")
	}
	return &Record{
		CertID:     certID,
		UserID:     userID,
		Title:      title,
		TxHash:     txHash,
		DateIssued: issuedAt.UTC(),
		Metadata:   metadata,
	}, nil
}

// Mode reports how the record was issued.
func (r *Record) Mode() Mode {
	if r.Metadata != nil {
		return ModeChain
	}
	return ModeSimulated
}

// IssueRequest is the input of one issuance.
type IssueRequest struct {
	UserID           string
	Title            string
	RecipientAddress string
	IdempotencyKey   string
}

// Normalize trims surrounding whitespace from identifiers. Title is free text
// and is stored exactly as given.
func (r *IssueRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.RecipientAddress = strings.TrimSpace(r.RecipientAddress)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
}

// Validate checks required fields and lengths. Address syntax is checked by
// the ledger client.
func (r *IssueRequest) Validate() error {
	if r.UserID == "" || strings.TrimSpace(r.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "userId and certTitle are required")
	}
	if len(r.UserID) > MaxUserIDLength {
		return dErrors.New(dErrors.CodeValidation, "userId is too long")
	}
	if len(r.Title) > MaxTitleLength {
		return dErrors.New(dErrors.CodeValidation, "certTitle is too long")
	}
	if len(r.IdempotencyKey) > 255 {
		return dErrors.New(dErrors.CodeValidation, "idempotency key is too long")
	}
	return nil
}

// ChainBacked reports whether the request asks for an on-ledger mint.
func (r *IssueRequest) ChainBacked() bool {
	return r.RecipientAddress != ""
}

// Receipt is returned to the caller of a successful issuance.
type Receipt struct {
	CertID       string    `json:"certId"`
	TxHash       string    `json:"txHash"`
	Mode         Mode      `json:"mode"`
	Mint         string    `json:"mint,omitempty"`
	TokenAccount string    `json:"tokenAccount,omitempty"`
	Signature    string    `json:"signature,omitempty"`
	Metadata     *Metadata `json:"metadata,omitempty"`
	Replayed     bool      `json:"replayed,omitempty"`
}

// ReceiptFor derives the receipt of a stored record.
func ReceiptFor(r *Record) *Receipt {
	receipt := &Receipt{CertID: r.CertID, TxHash: r.TxHash, Mode: r.Mode()}
	if r.Metadata != nil {
		receipt.Mint = r.Metadata.Mint
		receipt.TokenAccount = r.Metadata.TokenAccount
		receipt.Signature = r.Metadata.Signature
		receipt.Metadata = r.Metadata
	}
	return receipt
}

// Verification is the live holding check of one recipient for one mint.
type Verification struct {
	Mint         string `json:"mint"`
	Recipient    string `json:"recipient"`
	TokenAccount string `json:"tokenAccount"`
	Balance      uint64 `json:"balance"`
	IsValid      bool   `json:"isValid"`
}
