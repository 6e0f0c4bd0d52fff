package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindTimeout},
		{"rpc error", &jsonrpc.RPCError{Code: -32002, Message: "simulation failed"}, KindRejected},
		{"failed transaction", fmt.Errorf("%w: abc", ErrTransactionFailed), KindRejected},
		{"transport", errors.New("connection refused"), KindUnavailable},
		{"already classified", &Error{Op: OpBalance, Kind: KindInvalidAddress, Err: errors.New("x")}, KindInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(OpMintTo, tt.err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, classify(OpMintTo, nil))
}

func TestError_Message(t *testing.T) {
	err := &Error{Op: OpCreateMint, Kind: KindRejected, Err: errors.New("insufficient funds")}
	assert.Equal(t, "ledger create_mint [rejected]: insufficient funds", err.Error())
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindUnavailable, KindOf(errors.New("boom")))
}
