package ledger

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Identity is the issuer signing key. It is immutable once loaded.
type Identity struct {
	key       solana.PrivateKey
	generated bool
}

// LoadIdentity decodes a base58 secret key. An empty secret yields a freshly
// generated key that does not survive a restart.
func LoadIdentity(secret string) (*Identity, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate issuer key: %w", err)
		}
		return &Identity{key: key, generated: true}, nil
	}

	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("decode issuer key: %w", err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("decode issuer key: expected 64 bytes, got %d", len(key))
	}
	return &Identity{key: key}, nil
}

// PublicKey returns the issuer public key.
func (i *Identity) PublicKey() solana.PublicKey {
	return i.key.PublicKey()
}

// Address returns the issuer public key in base58.
func (i *Identity) Address() string {
	return i.key.PublicKey().String()
}

// Generated reports whether the key was generated at startup.
func (i *Identity) Generated() bool {
	return i.generated
}
