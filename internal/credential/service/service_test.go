package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks RecordStore,Ledger,IdempotencyStore,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"microcred/internal/audit"
	"microcred/internal/credential/idempotency"
	credmetrics "microcred/internal/credential/metrics"
	"microcred/internal/credential/models"
	"microcred/internal/credential/service/mocks"
	"microcred/internal/ledger"
	dErrors "microcred/pkg/domain-errors"
	"microcred/pkg/requestcontext"
)

const (
	testMint      = "MintAddr1111111111111111111111111111111111"
	testAccount   = "HolderAcct111111111111111111111111111111111"
	testRecipient = "Recipient11111111111111111111111111111111"
	testIssuer    = "Issuer1111111111111111111111111111111111111"
	testSignature = "sig-1"
)

// =============================================================================
// Credential Service Test Suite
// =============================================================================
// Issuance is the one place where ledger and store failures interleave. Tests
// pin the ordering of ledger calls, what gets persisted on each failure, and
// how idempotency keys are held and released.

type CredentialServiceSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	records     *mocks.MockRecordStore
	ledger      *mocks.MockLedger
	idempotency *mocks.MockIdempotencyStore
	audit       *mocks.MockAuditPublisher
	registry    *prometheus.Registry
	service     *Service
	ctx         context.Context
	now         time.Time
}

func TestCredentialServiceSuite(t *testing.T) {
	suite.Run(t, new(CredentialServiceSuite))
}

func (s *CredentialServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.records = mocks.NewMockRecordStore(s.ctrl)
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.idempotency = mocks.NewMockIdempotencyStore(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.registry = prometheus.NewRegistry()

	var err error
	s.service, err = New(
		s.records,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithLedger(s.ledger),
		WithIdempotency(s.idempotency, time.Hour),
		WithAuditPublisher(s.audit),
		WithMetrics(credmetrics.New(s.registry)),
	)
	s.Require().NoError(err)

	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(requestcontext.WithRequestID(context.Background(), "req-1"), s.now)
}

func (s *CredentialServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *CredentialServiceSuite) expectChainMint() {
	s.ledger.EXPECT().ValidateAddress(testRecipient).Return(nil)
	gomock.InOrder(
		s.ledger.EXPECT().CreateMint(gomock.Any(), uint8(0)).Return(testMint, nil),
		s.ledger.EXPECT().GetOrCreateHolderAccount(gomock.Any(), testMint, testRecipient).Return(testAccount, nil),
		s.ledger.EXPECT().MintTo(gomock.Any(), testMint, testAccount, uint64(1)).Return(testSignature, nil),
	)
	s.ledger.EXPECT().IssuerAddress().Return(testIssuer)
}

func (s *CredentialServiceSuite) TestNew() {
	s.Run("nil record store returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "record store is required")
	})

	s.Run("defaults to simulated mode with in-memory idempotency", func() {
		svc, err := New(s.records)
		s.NoError(err)
		s.False(svc.ChainBacked())
		s.IsType(&idempotency.InMemory{}, svc.idempotency)
		s.Equal(idempotency.DefaultTTL, svc.idempotencyTTL)
	})

	s.Run("options are applied", func() {
		s.True(s.service.ChainBacked())
		s.Equal(time.Hour, s.service.idempotencyTTL)
		s.Equal(s.audit, s.service.auditPublisher)
	})
}

func (s *CredentialServiceSuite) TestIssueValidation() {
	s.Run("missing title is rejected before any call", func() {
		_, err := s.service.Issue(s.ctx, models.IssueRequest{UserID: "alice", Title: "   "})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "userId and certTitle are required")
	})

	s.Run("invalid recipient address is rejected", func() {
		s.ledger.EXPECT().ValidateAddress("bogus").Return(&ledger.Error{Op: "validate", Kind: ledger.KindInvalidAddress, Err: errors.New("bad base58")})
		_, err := s.service.Issue(s.ctx, models.IssueRequest{UserID: "alice", Title: "Go", RecipientAddress: "bogus"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("recipient without ledger is rejected", func() {
		svc, err := New(s.records)
		s.Require().NoError(err)
		_, err = svc.Issue(s.ctx, models.IssueRequest{UserID: "alice", Title: "Go", RecipientAddress: testRecipient})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "no ledger is configured")
	})
}

func (s *CredentialServiceSuite) TestIssueSimulated() {
	var stored *models.Record
	s.records.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r *models.Record) error {
		stored = r
		return nil
	})
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(audit.ActionCredentialIssued, e.Action)
		s.Equal("alice", e.UserID)
		s.Equal("req-1", e.RequestID)
		return nil
	})

	receipt, err := s.service.Issue(s.ctx, models.IssueRequest{UserID: " alice ", Title: "Intro to Rust"})
	s.Require().NoError(err)

	s.True(strings.HasPrefix(receipt.TxHash, "tx-sim-"))
	s.Len(receipt.TxHash, len("tx-sim-")+8)
	s.True(strings.HasPrefix(receipt.CertID, "cert-1772366400000-"))
	s.Equal(models.ModeSimulated, receipt.Mode)
	s.Empty(receipt.Mint)

	s.Require().NotNil(stored)
	s.Equal("alice", stored.UserID)
	s.Equal("Intro to Rust", stored.Title)
	s.Equal(receipt.CertID, stored.CertID)
	s.Nil(stored.Metadata)
	s.Equal(1.0, testutil.ToFloat64(s.service.metrics.IssuedTotal.WithLabelValues("simulated", "ok")))
}

func (s *CredentialServiceSuite) TestIssueSimulatedStoreFailure() {
	s.records.EXPECT().Put(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	_, err := s.service.Issue(s.ctx, models.IssueRequest{UserID: "alice", Title: "Go"})
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyFailure))
}

func (s *CredentialServiceSuite) TestIssueOnLedger() {
	s.expectChainMint()
	var stored *models.Record
	s.records.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r *models.Record) error {
		stored = r
		return nil
	})
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	receipt, err := s.service.Issue(s.ctx, models.IssueRequest{UserID: "alice", Title: "Go", RecipientAddress: testRecipient})
	s.Require().NoError(err)

	s.Equal(testMint, receipt.CertID)
	s.Equal(testMint, receipt.TxHash)
	s.Equal(testAccount, receipt.TokenAccount)
	s.Equal(testSignature, receipt.Signature)
	s.Equal(models.ModeChain, receipt.Mode)

	s.Require().NotNil(stored.Metadata)
	s.Equal(models.Metadata{
		Issuer:       testIssuer,
		Recipient:    testRecipient,
		Mint:         testMint,
		TokenAccount: testAccount,
		Signature:    testSignature,
		Title:        "Go",
		UserID:       "alice",
		IssuedAt:     s.now,
	}, *stored.Metadata)
}

func (s *CredentialServiceSuite) TestIssueLedgerFailuresPersistNothing() {
	req := models.IssueRequest{UserID: "alice", Title: "Go", RecipientAddress: testRecipient}

	s.Run("create mint timeout maps to timeout", func() {
		s.ledger.EXPECT().ValidateAddress(testRecipient).Return(nil)
		s.ledger.EXPECT().CreateMint(gomock.Any(), uint8(0)).
			Return("", &ledger.Error{Op: ledger.OpCreateMint, Kind: ledger.KindTimeout, Err: context.DeadlineExceeded})

		_, err := s.service.Issue(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("mint rejection keeps the ledger message", func() {
		s.ledger.EXPECT().ValidateAddress(testRecipient).Return(nil)
		s.ledger.EXPECT().CreateMint(gomock.Any(), uint8(0)).Return(testMint, nil)
		s.ledger.EXPECT().GetOrCreateHolderAccount(gomock.Any(), testMint, testRecipient).Return(testAccount, nil)
		s.ledger.EXPECT().MintTo(gomock.Any(), testMint, testAccount, uint64(1)).
			Return("", &ledger.Error{Op: ledger.OpMintTo, Kind: ledger.KindRejected, Err: errors.New("insufficient funds")})

		_, err := s.service.Issue(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeDependencyFailure))
		s.Contains(err.Error(), "insufficient funds")
	})
	// No Put expectation: gomock fails the test if the store is touched.
}

func (s *CredentialServiceSuite) TestIssueReconciliationRequired() {
	s.expectChainMint()
	s.records.EXPECT().Put(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(audit.ActionReconciliationRequired, e.Action)
		s.Equal(testMint, e.Mint)
		s.Equal(testAccount, e.TokenAccount)
		s.Contains(e.Reason, "connection reset")
		return nil
	})

	_, err := s.service.Issue(s.ctx, models.IssueRequest{UserID: "alice", Title: "Go", RecipientAddress: testRecipient})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyFailure))
	s.Contains(err.Error(), testMint)
	s.ErrorIs(err, errReconciliationRequired)
	s.Equal(1.0, testutil.ToFloat64(s.service.metrics.ReconciliationRequired))
}

func (s *CredentialServiceSuite) TestIssueIdempotency() {
	req := models.IssueRequest{UserID: "alice", Title: "Go", IdempotencyKey: "k1"}
	key := idempotency.ScopedKey("alice", "k1")
	fp := idempotency.Fingerprint(&req)

	s.Run("first call reserves and completes", func() {
		s.idempotency.EXPECT().Reserve(gomock.Any(), key, fp, time.Hour).Return(nil, nil)
		s.records.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
		s.idempotency.EXPECT().Complete(gomock.Any(), key, fp, gomock.Any(), time.Hour).Return(nil)

		receipt, err := s.service.Issue(s.ctx, req)
		s.Require().NoError(err)
		s.False(receipt.Replayed)
	})

	s.Run("retry with same payload replays the receipt", func() {
		original := &models.Receipt{CertID: "cert-1", TxHash: "tx-sim-abcdefgh", Mode: models.ModeSimulated}
		s.idempotency.EXPECT().Reserve(gomock.Any(), key, fp, time.Hour).
			Return(&idempotency.Entry{Fingerprint: fp, Receipt: original}, nil)

		receipt, err := s.service.Issue(s.ctx, req)
		s.Require().NoError(err)
		s.True(receipt.Replayed)
		s.Equal("cert-1", receipt.CertID)
		s.False(original.Replayed, "stored receipt must not be mutated")
		s.Equal(1.0, testutil.ToFloat64(s.service.metrics.IdempotentReplays))
	})

	s.Run("same key with different payload conflicts", func() {
		s.idempotency.EXPECT().Reserve(gomock.Any(), key, gomock.Any(), time.Hour).
			Return(&idempotency.Entry{Fingerprint: fp, Receipt: &models.Receipt{CertID: "cert-1"}}, nil)

		_, err := s.service.Issue(s.ctx, models.IssueRequest{UserID: "alice", Title: "Rust", IdempotencyKey: "k1"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("in-flight duplicate conflicts", func() {
		s.idempotency.EXPECT().Reserve(gomock.Any(), key, fp, time.Hour).
			Return(&idempotency.Entry{Fingerprint: fp}, nil)

		_, err := s.service.Issue(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "in progress")
	})

	s.Run("store outage is a dependency failure", func() {
		s.idempotency.EXPECT().Reserve(gomock.Any(), key, fp, time.Hour).Return(nil, errors.New("redis down"))

		_, err := s.service.Issue(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeDependencyFailure))
	})

	s.Run("failed issuance releases the key", func() {
		s.idempotency.EXPECT().Reserve(gomock.Any(), key, fp, time.Hour).Return(nil, nil)
		s.records.EXPECT().Put(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
		s.idempotency.EXPECT().Release(gomock.Any(), key).Return(nil)

		_, err := s.service.Issue(s.ctx, req)
		s.Error(err)
	})
}

func (s *CredentialServiceSuite) TestIssueReconciliationKeepsIdempotencyKey() {
	req := models.IssueRequest{UserID: "alice", Title: "Go", RecipientAddress: testRecipient, IdempotencyKey: "k2"}
	s.idempotency.EXPECT().Reserve(gomock.Any(), idempotency.ScopedKey("alice", "k2"), gomock.Any(), time.Hour).Return(nil, nil)
	s.expectChainMint()
	s.records.EXPECT().Put(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
	s.idempotency.EXPECT().Release(gomock.Any(), gomock.Any()).Times(0)
	s.idempotency.EXPECT().
		MarkUnrecorded(gomock.Any(), idempotency.ScopedKey("alice", "k2"), idempotency.Fingerprint(&req), testMint, time.Hour).
		Return(nil)

	_, err := s.service.Issue(s.ctx, req)
	s.ErrorIs(err, errReconciliationRequired)
}

func (s *CredentialServiceSuite) TestRetryAfterReconciliationNamesTheMint() {
	req := models.IssueRequest{UserID: "alice", Title: "Go", RecipientAddress: testRecipient, IdempotencyKey: "k2"}
	s.ledger.EXPECT().ValidateAddress(testRecipient).Return(nil)
	s.idempotency.EXPECT().Reserve(gomock.Any(), idempotency.ScopedKey("alice", "k2"), gomock.Any(), time.Hour).
		Return(&idempotency.Entry{Fingerprint: idempotency.Fingerprint(&req), UnrecordedMint: testMint}, nil)

	_, err := s.service.Issue(s.ctx, req)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyFailure))
	s.Contains(err.Error(), testMint)
	s.NotContains(err.Error(), "in progress")
	s.ErrorIs(err, errReconciliationRequired)
	s.Zero(testutil.ToFloat64(s.service.metrics.IdempotentReplays))
}

func (s *CredentialServiceSuite) TestList() {
	s.Run("empty username is rejected", func() {
		_, err := s.service.List(s.ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "username is required")
	})

	s.Run("nil result becomes empty slice", func() {
		s.records.EXPECT().ListByUser(gomock.Any(), "bob").Return(nil, nil)
		records, err := s.service.List(s.ctx, "bob")
		s.NoError(err)
		s.NotNil(records)
		s.Empty(records)
	})

	s.Run("store error is a dependency failure", func() {
		s.records.EXPECT().ListByUser(gomock.Any(), "bob").Return(nil, errors.New("timeout"))
		_, err := s.service.List(s.ctx, "bob")
		s.True(dErrors.HasCode(err, dErrors.CodeDependencyFailure))
	})
}

func (s *CredentialServiceSuite) TestVerify() {
	s.Run("positive balance is valid", func() {
		s.ledger.EXPECT().ValidateAddress(testMint).Return(nil)
		s.ledger.EXPECT().ValidateAddress(testRecipient).Return(nil)
		s.ledger.EXPECT().GetOrCreateHolderAccount(gomock.Any(), testMint, testRecipient).Return(testAccount, nil)
		s.ledger.EXPECT().Balance(gomock.Any(), testAccount).Return(uint64(1), nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
			s.Equal(audit.ActionCredentialVerified, e.Action)
			s.Equal("valid", e.Decision)
			return nil
		})

		v, err := s.service.Verify(s.ctx, testMint, testRecipient)
		s.Require().NoError(err)
		s.True(v.IsValid)
		s.Equal(uint64(1), v.Balance)
		s.Equal(testAccount, v.TokenAccount)
	})

	s.Run("zero balance is invalid", func() {
		s.ledger.EXPECT().ValidateAddress(gomock.Any()).Return(nil).Times(2)
		s.ledger.EXPECT().GetOrCreateHolderAccount(gomock.Any(), testMint, testRecipient).Return(testAccount, nil)
		s.ledger.EXPECT().Balance(gomock.Any(), testAccount).Return(uint64(0), nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		v, err := s.service.Verify(s.ctx, testMint, testRecipient)
		s.Require().NoError(err)
		s.False(v.IsValid)
	})

	s.Run("missing addresses are rejected", func() {
		_, err := s.service.Verify(s.ctx, "", testRecipient)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("balance failure surfaces", func() {
		s.ledger.EXPECT().ValidateAddress(gomock.Any()).Return(nil).Times(2)
		s.ledger.EXPECT().GetOrCreateHolderAccount(gomock.Any(), testMint, testRecipient).Return(testAccount, nil)
		s.ledger.EXPECT().Balance(gomock.Any(), testAccount).
			Return(uint64(0), &ledger.Error{Op: ledger.OpBalance, Kind: ledger.KindUnavailable, Err: errors.New("503")})

		_, err := s.service.Verify(s.ctx, testMint, testRecipient)
		s.True(dErrors.HasCode(err, dErrors.CodeDependencyFailure))
	})

	s.Run("no ledger is rejected", func() {
		svc, err := New(s.records)
		s.Require().NoError(err)
		_, err = svc.Verify(s.ctx, testMint, testRecipient)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "ledger not configured")
	})
}

func (s *CredentialServiceSuite) TestRequestAirdrop() {
	s.Run("returns confirmed signature", func() {
		s.ledger.EXPECT().ValidateAddress(testRecipient).Return(nil)
		s.ledger.EXPECT().RequestUnits(gomock.Any(), testRecipient).Return("airdrop-sig", nil)
		s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		sig, err := s.service.RequestAirdrop(s.ctx, testRecipient)
		s.Require().NoError(err)
		s.Equal("airdrop-sig", sig)
	})

	s.Run("faucet timeout maps to timeout", func() {
		s.ledger.EXPECT().ValidateAddress(testRecipient).Return(nil)
		s.ledger.EXPECT().RequestUnits(gomock.Any(), testRecipient).
			Return("", &ledger.Error{Op: ledger.OpRequestUnits, Kind: ledger.KindTimeout, Err: context.DeadlineExceeded})

		_, err := s.service.RequestAirdrop(s.ctx, testRecipient)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("empty address is rejected", func() {
		_, err := s.service.RequestAirdrop(s.ctx, " ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *CredentialServiceSuite) TestAuditFailureDoesNotFailIssuance() {
	s.records.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("buffer full"))

	_, err := s.service.Issue(s.ctx, models.IssueRequest{UserID: "alice", Title: "Go"})
	s.NoError(err)
}

func TestNewSimulatedTxHash(t *testing.T) {
	counts := make(map[rune]int)
	const draws = 20000
	for range draws {
		h := newSimulatedTxHash()
		require.True(t, strings.HasPrefix(h, simulatedTxPrefix))
		body := strings.TrimPrefix(h, simulatedTxPrefix)
		require.Len(t, body, 8)
		for _, c := range body {
			require.True(t, strings.ContainsRune(base36, c), "unexpected character %q", c)
			counts[c]++
		}
	}
	// 160000 characters over 36 symbols is about 4444 each (sd ~66). A plain
	// modulo draw would put 5000 on each of the first four.
	for _, c := range base36 {
		assert.InDelta(t, draws*8/len(base36), counts[c], 350, "character %q", c)
	}
}
