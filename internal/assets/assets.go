// Package assets moves value between identities on behalf of the escrow
// ledger. It is polymorphic over the two asset kinds: the native currency
// (held by a Bank) and fungible tokens (external ERC-20-style contracts).
package assets

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/agelabs/escrow/internal/models"
)

// ErrTransferFailed is returned for any failed movement, including a token
// that returns false without reverting. Safe-transfer discipline: false is a
// failure, never silent success.
var ErrTransferFailed = errors.New("transfer failed")

// ErrUnknownToken is returned when a task references a token the resolver has
// no client for.
var ErrUnknownToken = errors.New("unknown token")

// Bank keeps native-currency balances. The ledger is a caller, never an
// implementer; MemoryBank is the in-process double for tests and dev runs.
type Bank interface {
	// Transfer moves amount from one address to another, failing if the
	// source balance is insufficient.
	Transfer(ctx context.Context, from, to models.Address, amount *big.Int) error
	// BalanceOf returns the current balance of addr.
	BalanceOf(ctx context.Context, addr models.Address) (*big.Int, error)
}

// Token is the consumed fungible-token surface. Boolean results follow the
// ERC-20 convention: false means the transfer did not happen.
type Token interface {
	TransferFrom(ctx context.Context, owner, to models.Address, amount *big.Int) (bool, error)
	Transfer(ctx context.Context, to models.Address, amount *big.Int) (bool, error)
	Allowance(ctx context.Context, owner, spender models.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, addr models.Address) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
}

// TokenResolver maps a token address to its client.
type TokenResolver interface {
	Token(addr models.Address) (Token, error)
}

// Mover is the capability the ledger needs per asset kind: pull funds into
// custody and push them back out.
type Mover interface {
	ReceiveInto(ctx context.Context, custody, source models.Address, amount *big.Int) error
	SendFromCustody(ctx context.Context, custody, dest models.Address, amount *big.Int) error
}

// NativeMover moves native currency through a Bank.
type NativeMover struct {
	bank Bank
}

// NewNativeMover returns a Mover over the given bank.
func NewNativeMover(bank Bank) *NativeMover { return &NativeMover{bank: bank} }

var _ Mover = (*NativeMover)(nil)

func (m *NativeMover) ReceiveInto(ctx context.Context, custody, source models.Address, amount *big.Int) error {
	if err := m.bank.Transfer(ctx, source, custody, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

func (m *NativeMover) SendFromCustody(ctx context.Context, custody, dest models.Address, amount *big.Int) error {
	if err := m.bank.Transfer(ctx, custody, dest, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// TokenMover moves one token: funding pulls via the allowance mechanism
// (TransferFrom), payout and refund push via Transfer from custody.
type TokenMover struct {
	token Token
}

// NewTokenMover returns a Mover over the given token client.
func NewTokenMover(token Token) *TokenMover { return &TokenMover{token: token} }

var _ Mover = (*TokenMover)(nil)

func (m *TokenMover) ReceiveInto(ctx context.Context, custody, source models.Address, amount *big.Int) error {
	ok, err := m.token.TransferFrom(ctx, source, custody, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: transferFrom returned false", ErrTransferFailed)
	}
	return nil
}

func (m *TokenMover) SendFromCustody(ctx context.Context, _, dest models.Address, amount *big.Int) error {
	ok, err := m.token.Transfer(ctx, dest, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: transfer returned false", ErrTransferFailed)
	}
	return nil
}

// MoverFor selects the mover for a task's recorded asset. Pure function of
// the asset field; the choice is fixed at task creation.
func MoverFor(asset models.Asset, bank Bank, tokens TokenResolver) (Mover, error) {
	if asset.IsNative() {
		return NewNativeMover(bank), nil
	}
	tok, err := tokens.Token(asset.Token)
	if err != nil {
		return nil, err
	}
	return NewTokenMover(tok), nil
}
