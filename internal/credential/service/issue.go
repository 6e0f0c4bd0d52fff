package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"microcred/internal/audit"
	"microcred/internal/credential/idempotency"
	"microcred/internal/credential/models"
	"microcred/internal/ledger"
	dErrors "microcred/pkg/domain-errors"
	"microcred/pkg/requestcontext"
)

// errReconciliationRequired marks a mint that exists on the ledger without a record.
var errReconciliationRequired = errors.New("reconciliation required")

// unrecordedMintError carries the mint of a reconciliation failure.
type unrecordedMintError struct {
	mint  string
	cause error
}

func (e *unrecordedMintError) Error() string {
	return fmt.Sprintf("%v: mint %s: %v", errReconciliationRequired, e.mint, e.cause)
}

func (e *unrecordedMintError) Unwrap() []error {
	return []error{errReconciliationRequired, e.cause}
}

func reconciliationErr(mint string, cause error) error {
	return dErrors.Wrap(
		&unrecordedMintError{mint: mint, cause: cause},
		dErrors.CodeDependencyFailure,
		fmt.Sprintf("credential minted as %s but the record could not be stored", mint),
	)
}

const simulatedTxPrefix = "tx-sim-"

// Issue runs one issuance. Without a recipient address the credential is
// simulated; otherwise a new mint is created, a holder account is attached to
// the recipient and one unit is minted into it before the record is written.
// Any ledger failure aborts before anything is persisted.
//
// With an idempotency key, a retry carrying the same payload returns the
// original receipt with Replayed set; a different payload or a retry while the
// first request is still running is a conflict.
func (s *Service) Issue(ctx context.Context, req models.IssueRequest) (*models.Receipt, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ChainBacked() {
		if s.ledger == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "recipientAddress given but no ledger is configured")
		}
		if err := s.ledger.ValidateAddress(req.RecipientAddress); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "recipientAddress is not a valid address")
		}
	}

	if req.IdempotencyKey == "" {
		return s.issue(ctx, &req)
	}

	key := idempotency.ScopedKey(req.UserID, req.IdempotencyKey)
	fingerprint := idempotency.Fingerprint(&req)
	existing, err := s.idempotency.Reserve(ctx, key, fingerprint, s.idempotencyTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyFailure, "idempotency store unavailable")
	}
	if existing != nil {
		return s.replay(ctx, existing, fingerprint)
	}

	receipt, err := s.issue(ctx, &req)
	if err != nil {
		s.settleFailedKey(ctx, key, fingerprint, err)
		return nil, err
	}

	if err := s.idempotency.Complete(context.WithoutCancel(ctx), key, fingerprint, receipt, s.idempotencyTTL); err != nil {
		s.logger.WarnContext(ctx, "failed to store idempotent receipt",
			"request_id", requestcontext.RequestID(ctx),
			"cert_id", receipt.CertID,
			"error", err,
		)
	}
	return receipt, nil
}

// settleFailedKey frees the key of a failed issuance. A minted but unrecorded
// credential keeps its key, marked with the mint, so a retry cannot mint twice.
func (s *Service) settleFailedKey(ctx context.Context, key, fingerprint string, cause error) {
	ctx = context.WithoutCancel(ctx)
	var unrecorded *unrecordedMintError
	if errors.As(cause, &unrecorded) {
		if err := s.idempotency.MarkUnrecorded(ctx, key, fingerprint, unrecorded.mint, s.idempotencyTTL); err != nil {
			s.logger.WarnContext(ctx, "failed to mark unrecorded mint on idempotency key",
				"request_id", requestcontext.RequestID(ctx),
				"mint", unrecorded.mint,
				"error", err,
			)
		}
		return
	}
	if err := s.idempotency.Release(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to release idempotency key",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func (s *Service) replay(ctx context.Context, existing *idempotency.Entry, fingerprint string) (*models.Receipt, error) {
	if existing.Fingerprint != fingerprint {
		return nil, dErrors.New(dErrors.CodeConflict, "idempotency key was already used with a different request")
	}
	if existing.UnrecordedMint != "" {
		s.logger.WarnContext(ctx, "retry of an issuance awaiting reconciliation",
			"request_id", requestcontext.RequestID(ctx),
			"mint", existing.UnrecordedMint,
		)
		return nil, reconciliationErr(existing.UnrecordedMint, errors.New("record was not stored on the first attempt"))
	}
	if existing.InFlight() {
		return nil, dErrors.New(dErrors.CodeConflict, "a request with this idempotency key is already in progress")
	}
	if s.metrics != nil {
		s.metrics.IncrementReplay()
	}
	s.logger.InfoContext(ctx, "issuance replayed",
		"request_id", requestcontext.RequestID(ctx),
		"cert_id", existing.Receipt.CertID,
	)
	receipt := *existing.Receipt
	receipt.Replayed = true
	return &receipt, nil
}

func (s *Service) issue(ctx context.Context, req *models.IssueRequest) (*models.Receipt, error) {
	start := time.Now()
	mode := models.ModeSimulated
	if req.ChainBacked() {
		mode = models.ModeChain
	}

	var (
		receipt *models.Receipt
		err     error
	)
	if mode == models.ModeChain {
		receipt, err = s.issueOnLedger(ctx, req)
	} else {
		receipt, err = s.issueSimulated(ctx, req)
	}

	if s.metrics != nil {
		s.metrics.ObserveIssue(string(mode), issueOutcome(err), start)
	}
	return receipt, err
}

func (s *Service) issueSimulated(ctx context.Context, req *models.IssueRequest) (*models.Receipt, error) {
	now := requestcontext.Now(ctx)
	record, err := models.NewRecord(newSimulatedCertID(now), req.UserID, req.Title, newSimulatedTxHash(), now, nil)
	if err != nil {
		return nil, err
	}
	if err := s.records.Put(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyFailure, "failed to store credential")
	}

	s.logger.InfoContext(ctx, "credential issued",
		"request_id", requestcontext.RequestID(ctx),
		"mode", string(models.ModeSimulated),
		"cert_id", record.CertID,
		"user_id", record.UserID,
	)
	s.emit(ctx, audit.Event{
		Action:    audit.ActionCredentialIssued,
		UserID:    record.UserID,
		RequestID: requestcontext.RequestID(ctx),
		CertID:    record.CertID,
		Title:     record.Title,
		TxHash:    record.TxHash,
	})
	return models.ReceiptFor(record), nil
}

func (s *Service) issueOnLedger(ctx context.Context, req *models.IssueRequest) (*models.Receipt, error) {
	mint, err := s.ledger.CreateMint(ctx, 0)
	if err != nil {
		return nil, wrapLedgerErr(err, "create mint")
	}
	account, err := s.ledger.GetOrCreateHolderAccount(ctx, mint, req.RecipientAddress)
	if err != nil {
		return nil, wrapLedgerErr(err, "create holder account")
	}
	signature, err := s.ledger.MintTo(ctx, mint, account, 1)
	if err != nil {
		return nil, wrapLedgerErr(err, "mint")
	}

	now := requestcontext.Now(ctx)
	metadata := &models.Metadata{
		Issuer:       s.ledger.IssuerAddress(),
		Recipient:    req.RecipientAddress,
		Mint:         mint,
		TokenAccount: account,
		Signature:    signature,
		Title:        req.Title,
		UserID:       req.UserID,
		IssuedAt:     now.UTC(),
	}
	record, err := models.NewRecord(mint, req.UserID, req.Title, mint, now, metadata)
	if err != nil {
		return nil, err
	}

	// The store gets its own deadline-free context: the mint already exists.
	if err := s.records.Put(context.WithoutCancel(ctx), record); err != nil {
		s.reportReconciliation(ctx, record, err)
		return nil, reconciliationErr(mint, err)
	}

	s.logger.InfoContext(ctx, "credential issued",
		"request_id", requestcontext.RequestID(ctx),
		"mode", string(models.ModeChain),
		"cert_id", record.CertID,
		"user_id", record.UserID,
		"token_account", account,
	)
	s.emit(ctx, audit.Event{
		Action:       audit.ActionCredentialIssued,
		UserID:       record.UserID,
		RequestID:    requestcontext.RequestID(ctx),
		CertID:       record.CertID,
		Title:        record.Title,
		Mint:         mint,
		TokenAccount: account,
		Recipient:    req.RecipientAddress,
		TxHash:       signature,
	})
	return models.ReceiptFor(record), nil
}

func (s *Service) reportReconciliation(ctx context.Context, record *models.Record, cause error) {
	if s.metrics != nil {
		s.metrics.IncrementReconciliationRequired()
	}
	s.logger.ErrorContext(ctx, "credential minted but not recorded",
		"event", "reconciliation_required",
		"request_id", requestcontext.RequestID(ctx),
		"mint", record.Metadata.Mint,
		"token_account", record.Metadata.TokenAccount,
		"signature", record.Metadata.Signature,
		"user_id", record.UserID,
		"title", record.Title,
		"error", cause,
	)
	s.emit(context.WithoutCancel(ctx), audit.Event{
		Action:       audit.ActionReconciliationRequired,
		UserID:       record.UserID,
		RequestID:    requestcontext.RequestID(ctx),
		CertID:       record.CertID,
		Title:        record.Title,
		Mint:         record.Metadata.Mint,
		TokenAccount: record.Metadata.TokenAccount,
		Recipient:    record.Metadata.Recipient,
		TxHash:       record.Metadata.Signature,
		Reason:       cause.Error(),
	})
}

// List returns the user's credentials in issuance order.
func (s *Service) List(ctx context.Context, userID string) ([]*models.Record, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "username is required")
	}
	records, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyFailure, "failed to list credentials")
	}
	if records == nil {
		records = []*models.Record{}
	}
	return records, nil
}

func wrapLedgerErr(err error, step string) error {
	switch ledger.KindOf(err) {
	case ledger.KindTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "ledger "+step+" timed out")
	case ledger.KindInvalidAddress:
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid ledger address")
	default:
		return dErrors.Wrap(err, dErrors.CodeDependencyFailure, "ledger "+step+" failed")
	}
}

func issueOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errReconciliationRequired):
		return "reconciliation_required"
	default:
		return string(dErrors.CodeOf(err))
	}
}

// newSimulatedCertID returns cert-<unix ms>-<8 hex>.
func newSimulatedCertID(now time.Time) string {
	return "cert-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// base36Limit is the largest multiple of 36 that fits in a byte; bytes at or
// above it are redrawn so every character is equally likely.
const base36Limit = 256 - 256%len(base36)

// newSimulatedTxHash returns tx-sim-<8 base36 chars>.
func newSimulatedTxHash() string {
	out := make([]byte, 0, 8)
	var buf [16]byte
	for len(out) < cap(out) {
		_, _ = rand.Read(buf[:])
		for _, b := range buf {
			if int(b) >= base36Limit {
				continue
			}
			out = append(out, base36[int(b)%len(base36)])
			if len(out) == cap(out) {
				break
			}
		}
	}
	return simulatedTxPrefix + string(out)
}
