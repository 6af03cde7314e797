package assets

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/agelabs/escrow/internal/models"
)

// MemoryBank is an in-process native-currency keeper. Used by tests and the
// dev wiring of cmd/api; production deployments substitute a chain adapter.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[models.Address]*big.Int
}

// NewMemoryBank returns an empty bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[models.Address]*big.Int)}
}

var _ Bank = (*MemoryBank)(nil)

// Mint credits addr with amount out of thin air.
func (b *MemoryBank) Mint(addr models.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, amount)
}

func (b *MemoryBank) Transfer(_ context.Context, from, to models.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance for %s", from)
	}
	bal.Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

func (b *MemoryBank) BalanceOf(_ context.Context, addr models.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[addr]
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

// caller holds b.mu
func (b *MemoryBank) credit(addr models.Address, amount *big.Int) {
	bal := b.balances[addr]
	if bal == nil {
		bal = new(big.Int)
		b.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

type allowanceKey struct {
	owner, spender models.Address
}

// MemoryToken is an in-process ERC-20-style double with mint/approve, a fixed
// spender identity for TransferFrom, and optional failure injection for
// safe-transfer tests.
type MemoryToken struct {
	mu         sync.Mutex
	spender    models.Address
	decimals   uint8
	balances   map[models.Address]*big.Int
	allowances map[allowanceKey]*big.Int

	// FailTransfers makes Transfer/TransferFrom return false without error,
	// mimicking a non-compliant token.
	FailTransfers bool
	// TransferHook, when set, runs before each successful Transfer. Lets
	// tests model a token that calls back into the ledger mid-payout.
	TransferHook func(to models.Address, amount *big.Int)
	// TransferFromHook, when set, runs after each TransferFrom attempt,
	// successful or not. Lets tests model calls that land mid-pull.
	TransferFromHook func(owner, to models.Address, amount *big.Int)
}

// NewMemoryToken returns a token whose TransferFrom-spender is the given
// address (the escrow custody account in practice).
func NewMemoryToken(spender models.Address, decimals uint8) *MemoryToken {
	return &MemoryToken{
		spender:    spender,
		decimals:   decimals,
		balances:   make(map[models.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

var _ Token = (*MemoryToken)(nil)

// Mint credits addr with amount.
func (t *MemoryToken) Mint(addr models.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(addr, amount)
}

// Approve sets owner's allowance for the token's spender.
func (t *MemoryToken) Approve(owner models.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner, t.spender}] = new(big.Int).Set(amount)
}

func (t *MemoryToken) TransferFrom(_ context.Context, owner, to models.Address, amount *big.Int) (bool, error) {
	t.mu.Lock()
	ok := t.pull(owner, to, amount)
	hook := t.TransferFromHook
	t.mu.Unlock()
	if hook != nil {
		hook(owner, to, amount)
	}
	return ok, nil
}

func (t *MemoryToken) pull(owner, to models.Address, amount *big.Int) bool {
	if t.FailTransfers {
		return false
	}
	key := allowanceKey{owner, t.spender}
	allowed := t.allowances[key]
	if allowed == nil || allowed.Cmp(amount) < 0 {
		return false
	}
	bal := t.balances[owner]
	if bal == nil || bal.Cmp(amount) < 0 {
		return false
	}
	allowed.Sub(allowed, amount)
	bal.Sub(bal, amount)
	t.credit(to, amount)
	return true
}

func (t *MemoryToken) Transfer(_ context.Context, to models.Address, amount *big.Int) (bool, error) {
	t.mu.Lock()
	if t.FailTransfers {
		t.mu.Unlock()
		return false, nil
	}
	bal := t.balances[t.spender]
	if bal == nil || bal.Cmp(amount) < 0 {
		t.mu.Unlock()
		return false, nil
	}
	bal.Sub(bal, amount)
	t.credit(to, amount)
	hook := t.TransferHook
	t.mu.Unlock()
	if hook != nil {
		hook(to, amount)
	}
	return true, nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender models.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.allowances[allowanceKey{owner, spender}]
	if a == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(a), nil
}

func (t *MemoryToken) BalanceOf(_ context.Context, addr models.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balances[addr]
	if bal == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (t *MemoryToken) Decimals(_ context.Context) (uint8, error) { return t.decimals, nil }

// caller holds t.mu
func (t *MemoryToken) credit(addr models.Address, amount *big.Int) {
	bal := t.balances[addr]
	if bal == nil {
		bal = new(big.Int)
		t.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// MemoryTokenResolver resolves token addresses to registered MemoryTokens.
type MemoryTokenResolver struct {
	mu     sync.Mutex
	tokens map[models.Address]Token
}

// NewMemoryTokenResolver returns an empty resolver.
func NewMemoryTokenResolver() *MemoryTokenResolver {
	return &MemoryTokenResolver{tokens: make(map[models.Address]Token)}
}

var _ TokenResolver = (*MemoryTokenResolver)(nil)

// Register binds a token client to an address.
func (r *MemoryTokenResolver) Register(addr models.Address, tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[addr] = tok
}

func (r *MemoryTokenResolver) Token(addr models.Address) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[addr]
	if !ok {
		return nil, ErrUnknownToken
	}
	return tok, nil
}
