// Package ledger adapts the external token ledger used to mint credentials.
//
// A Client creates one mint per credential, attaches holder accounts to
// recipient addresses, mints units into them and reads balances back for
// verification. Every call is a network round-trip that waits for
// confirmation before returning; nothing is cached.
package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Operation names used for errors, spans and metrics.
const (
	OpCreateMint               = "create_mint"
	OpGetOrCreateHolderAccount = "get_or_create_holder_account"
	OpMintTo                   = "mint_to"
	OpBalance                  = "balance"
	OpRequestUnits             = "request_units"
)

// Client is the ledger capability the credential services depend on.
type Client interface {
	// IssuerAddress is the public address of the signing identity.
	IssuerAddress() string
	// ValidateAddress reports whether addr is a well-formed ledger address.
	ValidateAddress(addr string) error
	// CreateMint creates a new mint whose mint and freeze authority is the issuer.
	CreateMint(ctx context.Context, decimals uint8) (string, error)
	// GetOrCreateHolderAccount returns the holder account of owner for mint,
	// creating it (paid by the issuer) when it does not exist yet.
	GetOrCreateHolderAccount(ctx context.Context, mint, owner string) (string, error)
	// MintTo mints amount units of mint into account and returns the signature.
	MintTo(ctx context.Context, mint, account string, amount uint64) (string, error)
	// Balance returns the raw unit balance of a holder account.
	Balance(ctx context.Context, account string) (uint64, error)
	// RequestUnits asks the test network faucet to fund address.
	RequestUnits(ctx context.Context, address string) (string, error)
}

// ValidateAddress checks that addr decodes to a 32-byte public key.
func ValidateAddress(addr string) error {
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		return &Error{Op: "validate_address", Kind: KindInvalidAddress, Err: err}
	}
	return nil
}

func parseAddress(op, addr string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return solana.PublicKey{}, &Error{Op: op, Kind: KindInvalidAddress, Err: err}
	}
	return pk, nil
}
