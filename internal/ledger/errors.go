package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Kind classifies ledger failures.
type Kind string

const (
	// KindTimeout means the call or its confirmation did not finish in time.
	KindTimeout Kind = "timeout"
	// KindRejected means the ledger answered and refused the request.
	KindRejected Kind = "rejected"
	// KindUnavailable means the ledger could not be reached.
	KindUnavailable Kind = "unavailable"
	// KindInvalidAddress means an input address is malformed.
	KindInvalidAddress Kind = "invalid_address"
)

// ErrTransactionFailed marks a transaction that landed but failed on chain.
var ErrTransactionFailed = errors.New("transaction failed")

// ErrCircuitOpen is returned without contacting the node while the breaker is open.
var ErrCircuitOpen = errors.New("ledger circuit open")

// Error wraps a ledger failure with the operation and its classification.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of err. Unclassified errors report KindUnavailable.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnavailable
}

// classify wraps err for op unless it is already a ledger error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}

	kind := KindUnavailable
	var rpcErr *jsonrpc.RPCError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &rpcErr), errors.Is(err, ErrTransactionFailed):
		kind = KindRejected
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
