package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"microcred/internal/credential/models"
	dErrors "microcred/pkg/domain-errors"
	"microcred/pkg/platform/httputil"
	"microcred/pkg/requestcontext"
)

// IdempotencyKeyHeader carries the caller's retry key for issuance.
const IdempotencyKeyHeader = "Idempotency-Key"

// Service defines the credential operations the handler exposes.
type Service interface {
	Issue(ctx context.Context, req models.IssueRequest) (*models.Receipt, error)
	List(ctx context.Context, userID string) ([]*models.Record, error)
	Verify(ctx context.Context, mint, recipient string) (*models.Verification, error)
	RequestAirdrop(ctx context.Context, address string) (string, error)
}

// Handler serves the credential, verification and faucet endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the credential routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/issueCredential", h.handleIssue)
	r.Get("/api/credentials", h.handleList)
	r.Get("/api/verifyCredential", h.handleVerify)
	r.Post("/api/requestAirdrop", h.handleAirdrop)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueCredentialRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		req.IdempotencyKey = key
	}

	receipt, err := h.service.Issue(ctx, req.toModel())
	if err != nil {
		h.logFailure(ctx, "credential issuance failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newIssueCredentialResponse(receipt))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := strings.TrimSpace(r.URL.Query().Get("username"))

	records, err := h.service.List(ctx, username)
	if err != nil {
		h.logFailure(ctx, "credential listing failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	v, err := h.service.Verify(ctx, q.Get("mintAddress"), q.Get("recipientAddress"))
	if err != nil {
		h.logFailure(ctx, "credential verification failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyCredentialResponse{
		IsValid:      v.IsValid,
		Balance:      v.Balance,
		Mint:         v.Mint,
		TokenAccount: v.TokenAccount,
	})
}

func (h *Handler) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[AirdropRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	signature, err := h.service.RequestAirdrop(ctx, req.Address)
	if err != nil {
		h.logFailure(ctx, "airdrop failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AirdropResponse{Success: true, Signature: signature})
}

// logFailure logs caller mistakes at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
		"code", string(dErrors.CodeOf(err)),
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeBadRequest, dErrors.CodeConflict:
		h.logger.WarnContext(ctx, msg, attrs...)
	default:
		h.logger.ErrorContext(ctx, msg, attrs...)
	}
}
