package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

type memMint struct {
	decimals  uint8
	authority string
	supply    uint64
}

type memAccount struct {
	mint   string
	owner  string
	amount uint64
}

// InMemoryLedger is an in-process ledger with the same contract as the
// Solana client. Holder accounts use the real associated-token derivation so
// addresses match what the network would produce.
type InMemoryLedger struct {
	mu       sync.Mutex
	issuer   *Identity
	mints    map[string]*memMint
	accounts map[string]*memAccount
	funded   map[string]uint64
	faults   map[string]error
	calls    map[string]int
}

// NewInMemoryLedger returns an empty ledger signing as issuer.
func NewInMemoryLedger(issuer *Identity) *InMemoryLedger {
	return &InMemoryLedger{
		issuer:   issuer,
		mints:    make(map[string]*memMint),
		accounts: make(map[string]*memAccount),
		funded:   make(map[string]uint64),
		faults:   make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Fail makes every subsequent call to op return err until Reset.
// Errors that are not *Error are reported as KindUnavailable.
func (l *InMemoryLedger) Fail(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = err
}

// Reset clears injected faults.
func (l *InMemoryLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = make(map[string]error)
}

// Calls returns how many times op was invoked, failed calls included.
func (l *InMemoryLedger) Calls(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

// HasAccount reports whether a holder account exists for (mint, owner).
func (l *InMemoryLedger) HasAccount(mint, owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, acct := range l.accounts {
		if acct.mint == mint && acct.owner == owner {
			return true
		}
	}
	return false
}

// Supply returns the total minted units of mint.
func (l *InMemoryLedger) Supply(mint string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.mints[mint]; ok {
		return m.supply
	}
	return 0
}

// Funded returns the lamports granted to address by RequestUnits.
func (l *InMemoryLedger) Funded(address string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.funded[address]
}

func (l *InMemoryLedger) IssuerAddress() string {
	return l.issuer.Address()
}

func (l *InMemoryLedger) ValidateAddress(addr string) error {
	return ValidateAddress(addr)
}

func (l *InMemoryLedger) CreateMint(ctx context.Context, decimals uint8) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, OpCreateMint); err != nil {
		return "", err
	}

	mint := solana.NewWallet().PublicKey().String()
	l.mints[mint] = &memMint{decimals: decimals, authority: l.issuer.Address()}
	return mint, nil
}

func (l *InMemoryLedger) GetOrCreateHolderAccount(ctx context.Context, mint, owner string) (string, error) {
	mintPub, err := parseAddress(OpGetOrCreateHolderAccount, mint)
	if err != nil {
		return "", err
	}
	ownerPub, err := parseAddress(OpGetOrCreateHolderAccount, owner)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, OpGetOrCreateHolderAccount); err != nil {
		return "", err
	}
	if _, ok := l.mints[mint]; !ok {
		return "", &Error{Op: OpGetOrCreateHolderAccount, Kind: KindRejected, Err: fmt.Errorf("mint %s not found", mint)}
	}

	ata, _, err := solana.FindAssociatedTokenAddress(ownerPub, mintPub)
	if err != nil {
		return "", &Error{Op: OpGetOrCreateHolderAccount, Kind: KindInvalidAddress, Err: err}
	}
	account := ata.String()
	if _, ok := l.accounts[account]; !ok {
		l.accounts[account] = &memAccount{mint: mint, owner: owner}
	}
	return account, nil
}

func (l *InMemoryLedger) MintTo(ctx context.Context, mint, account string, amount uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, OpMintTo); err != nil {
		return "", err
	}

	m, ok := l.mints[mint]
	if !ok {
		return "", &Error{Op: OpMintTo, Kind: KindRejected, Err: fmt.Errorf("mint %s not found", mint)}
	}
	if m.authority != l.issuer.Address() {
		return "", &Error{Op: OpMintTo, Kind: KindRejected, Err: errors.New("issuer is not the mint authority")}
	}
	acct, ok := l.accounts[account]
	if !ok {
		return "", &Error{Op: OpMintTo, Kind: KindRejected, Err: fmt.Errorf("account %s not found", account)}
	}
	if acct.mint != mint {
		return "", &Error{Op: OpMintTo, Kind: KindRejected, Err: fmt.Errorf("account %s does not hold mint %s", account, mint)}
	}

	acct.amount += amount
	m.supply += amount
	return randomSignature(), nil
}

func (l *InMemoryLedger) Balance(ctx context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, OpBalance); err != nil {
		return 0, err
	}

	acct, ok := l.accounts[account]
	if !ok {
		return 0, &Error{Op: OpBalance, Kind: KindRejected, Err: fmt.Errorf("account %s not found", account)}
	}
	return acct.amount, nil
}

func (l *InMemoryLedger) RequestUnits(ctx context.Context, address string) (string, error) {
	if _, err := parseAddress(OpRequestUnits, address); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter(ctx, OpRequestUnits); err != nil {
		return "", err
	}
	l.funded[address] += solana.LAMPORTS_PER_SOL
	return randomSignature(), nil
}

// enter records the call and returns an injected fault or the context error.
// Callers hold l.mu.
func (l *InMemoryLedger) enter(ctx context.Context, op string) error {
	l.calls[op]++
	if err := ctx.Err(); err != nil {
		return classify(op, err)
	}
	if err, ok := l.faults[op]; ok {
		return classify(op, err)
	}
	return nil
}

func randomSignature() string {
	var sig solana.Signature
	_, _ = rand.Read(sig[:])
	return sig.String()
}

var _ Client = (*InMemoryLedger)(nil)
