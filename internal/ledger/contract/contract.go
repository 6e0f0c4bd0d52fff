// Package contract holds a behavioural test suite every ledger.Client
// implementation must pass.
package contract

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microcred/internal/ledger"
)

// Suite runs the shared contract against Client.
type Suite struct {
	Client ledger.Client
	// SkipBalanceCheck disables the "minted unit is visible" assertion for
	// clients whose backend cannot reflect minted supply.
	SkipBalanceCheck bool
}

// Run executes every contract test as a subtest of t.
func (s *Suite) Run(t *testing.T) {
	t.Run("issuer address is a valid address", func(t *testing.T) {
		require.NoError(t, s.Client.ValidateAddress(s.Client.IssuerAddress()))
	})

	t.Run("malformed address is classified as invalid", func(t *testing.T) {
		err := s.Client.ValidateAddress("not-an-address")
		require.Error(t, err)
		assert.Equal(t, ledger.KindInvalidAddress, ledger.KindOf(err))
	})

	t.Run("mint, attach holder and mint one unit", func(t *testing.T) {
		ctx := context.Background()
		owner := solana.NewWallet().PublicKey().String()

		mint, err := s.Client.CreateMint(ctx, 0)
		require.NoError(t, err)
		require.NoError(t, s.Client.ValidateAddress(mint))

		account, err := s.Client.GetOrCreateHolderAccount(ctx, mint, owner)
		require.NoError(t, err)
		require.NotEmpty(t, account)

		again, err := s.Client.GetOrCreateHolderAccount(ctx, mint, owner)
		require.NoError(t, err)
		assert.Equal(t, account, again, "holder account must be stable for (mint, owner)")

		sig, err := s.Client.MintTo(ctx, mint, account, 1)
		require.NoError(t, err)
		assert.NotEmpty(t, sig)

		balance, err := s.Client.Balance(ctx, account)
		require.NoError(t, err)
		if !s.SkipBalanceCheck {
			assert.Equal(t, uint64(1), balance)
		}
	})

	t.Run("holder account rejects malformed owner", func(t *testing.T) {
		mint := solana.NewWallet().PublicKey().String()
		_, err := s.Client.GetOrCreateHolderAccount(context.Background(), mint, "bogus")
		require.Error(t, err)
		assert.Equal(t, ledger.KindInvalidAddress, ledger.KindOf(err))
	})

	t.Run("faucet returns a signature", func(t *testing.T) {
		sig, err := s.Client.RequestUnits(context.Background(), solana.NewWallet().PublicKey().String())
		require.NoError(t, err)
		assert.NotEmpty(t, sig)
	})
}
