package service

import (
	"context"
	"strings"

	"microcred/internal/audit"
	"microcred/internal/credential/models"
	dErrors "microcred/pkg/domain-errors"
	"microcred/pkg/requestcontext"
)

// Verify reads the recipient's live holding of mint. IsValid is true for any
// positive balance.
//
// The holder account is created when absent, so a verification against a new
// (mint, recipient) pair costs one ledger write and then reports zero.
func (s *Service) Verify(ctx context.Context, mint, recipient string) (*models.Verification, error) {
	if s.ledger == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "ledger not configured")
	}
	mint = strings.TrimSpace(mint)
	recipient = strings.TrimSpace(recipient)
	if mint == "" || recipient == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "mintAddress and recipientAddress are required")
	}
	if err := s.ledger.ValidateAddress(mint); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "mintAddress is not a valid address")
	}
	if err := s.ledger.ValidateAddress(recipient); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "recipientAddress is not a valid address")
	}

	account, err := s.ledger.GetOrCreateHolderAccount(ctx, mint, recipient)
	if err != nil {
		return nil, wrapLedgerErr(err, "holder account lookup")
	}
	balance, err := s.ledger.Balance(ctx, account)
	if err != nil {
		return nil, wrapLedgerErr(err, "balance")
	}

	v := &models.Verification{
		Mint:         mint,
		Recipient:    recipient,
		TokenAccount: account,
		Balance:      balance,
		IsValid:      balance > 0,
	}
	if s.metrics != nil {
		s.metrics.IncrementVerification(v.IsValid)
	}
	decision := "invalid"
	if v.IsValid {
		decision = "valid"
	}
	s.logger.InfoContext(ctx, "credential verified",
		"request_id", requestcontext.RequestID(ctx),
		"mint", mint,
		"token_account", account,
		"balance", balance,
		"valid", v.IsValid,
	)
	s.emit(ctx, audit.Event{
		Action:       audit.ActionCredentialVerified,
		RequestID:    requestcontext.RequestID(ctx),
		Mint:         mint,
		TokenAccount: account,
		Recipient:    recipient,
		Decision:     decision,
	})
	return v, nil
}

// RequestAirdrop asks the test-network faucet to fund address and waits for
// confirmation.
func (s *Service) RequestAirdrop(ctx context.Context, address string) (string, error) {
	if s.ledger == nil {
		return "", dErrors.New(dErrors.CodeValidation, "ledger not configured")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return "", dErrors.New(dErrors.CodeValidation, "address is required")
	}
	if err := s.ledger.ValidateAddress(address); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "address is not a valid address")
	}

	signature, err := s.ledger.RequestUnits(ctx, address)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementAirdrop("error")
		}
		return "", wrapLedgerErr(err, "airdrop")
	}
	if s.metrics != nil {
		s.metrics.IncrementAirdrop("ok")
	}

	s.logger.InfoContext(ctx, "airdrop confirmed",
		"request_id", requestcontext.RequestID(ctx),
		"address", address,
		"signature", signature,
	)
	s.emit(ctx, audit.Event{
		Action:    audit.ActionAirdropRequested,
		RequestID: requestcontext.RequestID(ctx),
		Recipient: address,
		TxHash:    signature,
	})
	return signature, nil
}
