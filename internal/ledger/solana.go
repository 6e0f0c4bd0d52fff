package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"microcred/pkg/platform/circuit"
)

// mintAccountSize is the byte size of an SPL token mint account.
const mintAccountSize = 82

const (
	defaultCallTimeout = 30 * time.Second
	defaultConfirmPoll = 500 * time.Millisecond
)

// SolanaClient talks to a Solana JSON-RPC endpoint and signs with the issuer identity.
type SolanaClient struct {
	rpc         *rpc.Client
	identity    *Identity
	callTimeout time.Duration
	confirmPoll time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	breaker     *circuit.Breaker
}

// Option configures a SolanaClient.
type Option func(*SolanaClient)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *SolanaClient) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *SolanaClient) {
		c.metrics = m
	}
}

// WithCallTimeout bounds every ledger call including confirmation.
func WithCallTimeout(d time.Duration) Option {
	return func(c *SolanaClient) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithConfirmPoll sets the interval between signature status checks.
func WithConfirmPoll(d time.Duration) Option {
	return func(c *SolanaClient) {
		if d > 0 {
			c.confirmPoll = d
		}
	}
}

// WithTracer overrides the tracer used for ledger spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *SolanaClient) {
		c.tracer = t
	}
}

// WithBreaker makes calls fail fast with ErrCircuitOpen while b is open.
// Only unavailable and timeout failures count against the node.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *SolanaClient) {
		c.breaker = b
	}
}

// NewSolanaClient returns a client for the RPC endpoint at rpcURL.
func NewSolanaClient(rpcURL string, identity *Identity, opts ...Option) *SolanaClient {
	c := &SolanaClient{
		rpc:         rpc.New(rpcURL),
		identity:    identity,
		callTimeout: defaultCallTimeout,
		confirmPoll: defaultConfirmPoll,
		logger:      slog.Default(),
		tracer:      otel.Tracer("microcred/internal/ledger"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *SolanaClient) IssuerAddress() string {
	return c.identity.Address()
}

func (c *SolanaClient) ValidateAddress(addr string) error {
	return ValidateAddress(addr)
}

func (c *SolanaClient) CreateMint(ctx context.Context, decimals uint8) (string, error) {
	var mint string
	err := c.call(ctx, OpCreateMint, func(ctx context.Context, span trace.Span) error {
		lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, mintAccountSize, rpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("rent exemption: %w", err)
		}

		mintKey, err := solana.NewRandomPrivateKey()
		if err != nil {
			return fmt.Errorf("generate mint key: %w", err)
		}
		issuer := c.identity.PublicKey()
		mintPub := mintKey.PublicKey()
		span.SetAttributes(attribute.String("ledger.mint", mintPub.String()))

		ixs := []solana.Instruction{
			system.NewCreateAccountInstruction(lamports, mintAccountSize, solana.TokenProgramID, issuer, mintPub).Build(),
			token.NewInitializeMintInstruction(decimals, issuer, issuer, mintPub, solana.SysVarRentPubkey).Build(),
		}
		if _, err := c.sendAndConfirm(ctx, ixs, mintKey); err != nil {
			return err
		}
		mint = mintPub.String()
		return nil
	})
	return mint, err
}

func (c *SolanaClient) GetOrCreateHolderAccount(ctx context.Context, mint, owner string) (string, error) {
	mintPub, err := parseAddress(OpGetOrCreateHolderAccount, mint)
	if err != nil {
		return "", err
	}
	ownerPub, err := parseAddress(OpGetOrCreateHolderAccount, owner)
	if err != nil {
		return "", err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerPub, mintPub)
	if err != nil {
		return "", &Error{Op: OpGetOrCreateHolderAccount, Kind: KindInvalidAddress, Err: err}
	}

	err = c.call(ctx, OpGetOrCreateHolderAccount, func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(
			attribute.String("ledger.mint", mint),
			attribute.String("ledger.account", ata.String()),
		)
		exists, err := c.accountExists(ctx, ata)
		if err != nil || exists {
			return err
		}

		ix := associatedtokenaccount.NewCreateInstruction(c.identity.PublicKey(), ownerPub, mintPub).Build()
		if _, sendErr := c.sendAndConfirm(ctx, []solana.Instruction{ix}); sendErr != nil {
			// A concurrent request may have created the account first.
			if exists, err := c.accountExists(ctx, ata); err == nil && exists {
				return nil
			}
			return sendErr
		}
		c.logger.InfoContext(ctx, "holder account created",
			"mint", mint,
			"owner", owner,
			"account", ata.String(),
		)
		return nil
	})
	if err != nil {
		return "", err
	}
	return ata.String(), nil
}

func (c *SolanaClient) MintTo(ctx context.Context, mint, account string, amount uint64) (string, error) {
	mintPub, err := parseAddress(OpMintTo, mint)
	if err != nil {
		return "", err
	}
	accountPub, err := parseAddress(OpMintTo, account)
	if err != nil {
		return "", err
	}

	var sig string
	err = c.call(ctx, OpMintTo, func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(
			attribute.String("ledger.mint", mint),
			attribute.String("ledger.account", account),
			attribute.Int64("ledger.amount", int64(amount)),
		)
		ix := token.NewMintToInstruction(amount, mintPub, accountPub, c.identity.PublicKey(), nil).Build()
		signature, err := c.sendAndConfirm(ctx, []solana.Instruction{ix})
		if err != nil {
			return err
		}
		sig = signature.String()
		return nil
	})
	return sig, err
}

func (c *SolanaClient) Balance(ctx context.Context, account string) (uint64, error) {
	accountPub, err := parseAddress(OpBalance, account)
	if err != nil {
		return 0, err
	}

	var balance uint64
	err = c.call(ctx, OpBalance, func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(attribute.String("ledger.account", account))
		out, err := c.rpc.GetTokenAccountBalance(ctx, accountPub, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			return errors.New("empty balance response")
		}
		balance, err = strconv.ParseUint(out.Value.Amount, 10, 64)
		if err != nil {
			return fmt.Errorf("parse balance %q: %w", out.Value.Amount, err)
		}
		return nil
	})
	return balance, err
}

func (c *SolanaClient) RequestUnits(ctx context.Context, address string) (string, error) {
	pub, err := parseAddress(OpRequestUnits, address)
	if err != nil {
		return "", err
	}

	var sig string
	err = c.call(ctx, OpRequestUnits, func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(attribute.String("ledger.address", address))
		signature, err := c.rpc.RequestAirdrop(ctx, pub, solana.LAMPORTS_PER_SOL, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if err := c.awaitConfirmation(ctx, signature); err != nil {
			return err
		}
		sig = signature.String()
		return nil
	})
	return sig, err
}

// call runs fn under a span and the per-call timeout, then classifies the error.
func (c *SolanaClient) call(ctx context.Context, op string, fn func(context.Context, trace.Span) error) error {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ledger."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var err error
	if c.breaker != nil && !c.breaker.Allow() {
		err = &Error{Op: op, Kind: KindUnavailable, Err: ErrCircuitOpen}
	} else {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		err = fn(callCtx, span)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = &Error{Op: op, Kind: KindTimeout, Err: err}
		}
		cancel()
		err = classify(op, err)
		c.recordOutcome(ctx, op, err)
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.WarnContext(ctx, "ledger call failed",
			"operation", op,
			"kind", outcome,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.ObserveCall(op, outcome, start)
	}
	return err
}

func (c *SolanaClient) recordOutcome(ctx context.Context, op string, err error) {
	if c.breaker == nil {
		return
	}
	var change circuit.StateChange
	if kind := KindOf(err); err != nil && (kind == KindUnavailable || kind == KindTimeout) {
		_, change = c.breaker.RecordFailure()
	} else {
		_, change = c.breaker.RecordSuccess()
	}
	if change.Opened {
		c.logger.ErrorContext(ctx, "ledger circuit opened", "breaker", c.breaker.Name(), "operation", op)
	}
	if change.Closed {
		c.logger.InfoContext(ctx, "ledger circuit closed", "breaker", c.breaker.Name())
	}
}

func (c *SolanaClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// sendAndConfirm signs ixs with the issuer (fee payer) and any extra signers,
// submits the transaction and waits for confirmed commitment.
func (c *SolanaClient) sendAndConfirm(ctx context.Context, ixs []solana.Instruction, extra ...solana.PrivateKey) (solana.Signature, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("latest blockhash: %w", err)
	}

	issuer := c.identity.PublicKey()
	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(issuer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	signers := append([]solana.PrivateKey{c.identity.key}, extra...)
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(pub) {
				return &signers[i]
			}
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, err
	}
	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// awaitConfirmation polls the signature status until it reaches confirmed
// commitment, fails on chain, or ctx expires.
func (c *SolanaClient) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.confirmPoll)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil && ctx.Err() == nil {
			c.logger.DebugContext(ctx, "signature status lookup failed", "signature", sig.String(), "error", err)
		}
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("await confirmation of %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ Client = (*SolanaClient)(nil)
