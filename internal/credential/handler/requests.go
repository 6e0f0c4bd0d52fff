package handler

import (
	"strings"

	"microcred/internal/credential/models"
	dErrors "microcred/pkg/domain-errors"
)

// IssueCredentialRequest is the body of POST /api/issueCredential.
type IssueCredentialRequest struct {
	UserID           string `json:"userId"`
	CertTitle        string `json:"certTitle"`
	RecipientAddress string `json:"recipientAddress,omitempty"`
	IdempotencyKey   string `json:"idempotencyKey,omitempty"`
}

func (r *IssueCredentialRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.RecipientAddress = strings.TrimSpace(r.RecipientAddress)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
}

func (r *IssueCredentialRequest) Validate() error {
	if r.UserID == "" || strings.TrimSpace(r.CertTitle) == "" {
		return dErrors.New(dErrors.CodeValidation, "userId and certTitle are required")
	}
	return nil
}

func (r *IssueCredentialRequest) toModel() models.IssueRequest {
	return models.IssueRequest{
		UserID:           r.UserID,
		Title:            r.CertTitle,
		RecipientAddress: r.RecipientAddress,
		IdempotencyKey:   r.IdempotencyKey,
	}
}

// IssueCredentialResponse covers both issuance variants: simulated receipts
// carry only certId and txHash, chain-backed ones add mint and tokenAccount.
type IssueCredentialResponse struct {
	Success      bool   `json:"success"`
	CertID       string `json:"certId"`
	TxHash       string `json:"txHash"`
	Mint         string `json:"mint,omitempty"`
	TokenAccount string `json:"tokenAccount,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Replayed     bool   `json:"replayed,omitempty"`
}

func newIssueCredentialResponse(r *models.Receipt) IssueCredentialResponse {
	return IssueCredentialResponse{
		Success:      true,
		CertID:       r.CertID,
		TxHash:       r.TxHash,
		Mint:         r.Mint,
		TokenAccount: r.TokenAccount,
		Signature:    r.Signature,
		Replayed:     r.Replayed,
	}
}

type VerifyCredentialResponse struct {
	IsValid      bool   `json:"isValid"`
	Balance      uint64 `json:"balance"`
	Mint         string `json:"mint"`
	TokenAccount string `json:"tokenAccount"`
}

// AirdropRequest is the body of POST /api/requestAirdrop.
type AirdropRequest struct {
	Address string `json:"address"`
}

func (r *AirdropRequest) Normalize() {
	r.Address = strings.TrimSpace(r.Address)
}

func (r *AirdropRequest) Validate() error {
	if r.Address == "" {
		return dErrors.New(dErrors.CodeValidation, "address is required")
	}
	return nil
}

type AirdropResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
}
