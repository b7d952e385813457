// Package token carries in-process implementations of the stable-token and
// base-asset collaborators. Real deployments would bind these interfaces to
// an external token service; the core packages only see the interfaces they
// declare themselves.
package token

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotMinter             = errors.New("token: caller is not a registered minter")
)

// MemStable is an in-memory stable token with mint/burn restricted to
// registered minter identities, plus allowance-based transfers.
type MemStable struct {
	mu          sync.Mutex
	balances    map[uuid.UUID]int64
	allowances  map[[2]uuid.UUID]int64 // (owner, spender) -> amount
	minters     map[uuid.UUID]bool
	totalSupply int64
}

func NewMemStable() *MemStable {
	return &MemStable{
		balances:   make(map[uuid.UUID]int64),
		allowances: make(map[[2]uuid.UUID]int64),
		minters:    make(map[uuid.UUID]bool),
	}
}

// AddMinter registers an identity allowed to mint and burn.
func (t *MemStable) AddMinter(minter uuid.UUID) {
	t.mu.Lock()
	t.minters[minter] = true
	t.mu.Unlock()
}

func (t *MemStable) Mint(caller, to uuid.UUID, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.minters[caller] {
		return ErrNotMinter
	}
	t.balances[to] += amount
	t.totalSupply += amount
	return nil
}

// BurnFrom destroys amount from owner's balance, consuming spender's
// allowance. Restricted to registered minters.
func (t *MemStable) BurnFrom(spender, owner uuid.UUID, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.minters[spender] {
		return ErrNotMinter
	}
	if err := t.spendAllowance(owner, spender, amount); err != nil {
		return err
	}
	if t.balances[owner] < amount {
		return ErrInsufficientBalance
	}
	t.balances[owner] -= amount
	t.totalSupply -= amount
	return nil
}

func (t *MemStable) Approve(owner, spender uuid.UUID, amount int64) {
	t.mu.Lock()
	t.allowances[[2]uuid.UUID{owner, spender}] = amount
	t.mu.Unlock()
}

func (t *MemStable) Allowance(owner, spender uuid.UUID) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[[2]uuid.UUID{owner, spender}]
}

// TransferFrom moves amount from owner to dest, consuming spender's allowance.
func (t *MemStable) TransferFrom(spender, owner, dest uuid.UUID, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.spendAllowance(owner, spender, amount); err != nil {
		return err
	}
	if t.balances[owner] < amount {
		return ErrInsufficientBalance
	}
	t.balances[owner] -= amount
	t.balances[dest] += amount
	return nil
}

func (t *MemStable) BalanceOf(holder uuid.UUID) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[holder]
}

func (t *MemStable) TotalSupply() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSupply
}

// spendAllowance must be called with the lock held.
func (t *MemStable) spendAllowance(owner, spender uuid.UUID, amount int64) error {
	key := [2]uuid.UUID{owner, spender}
	if t.allowances[key] < amount {
		return ErrInsufficientAllowance
	}
	t.allowances[key] -= amount
	return nil
}

// MemNative is the base-asset ledger used for the initiator bonus payment
// accompanying a bid.
type MemNative struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
}

func NewMemNative() *MemNative {
	return &MemNative{
		balances: make(map[uuid.UUID]int64),
	}
}

// Credit funds an account out of thin air (test and genesis use only).
func (n *MemNative) Credit(account uuid.UUID, amount int64) {
	n.mu.Lock()
	n.balances[account] += amount
	n.mu.Unlock()
}

func (n *MemNative) Transfer(from, to uuid.UUID, amount int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.balances[from] < amount {
		return ErrInsufficientBalance
	}
	n.balances[from] -= amount
	n.balances[to] += amount
	return nil
}

func (n *MemNative) BalanceOf(account uuid.UUID) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.balances[account]
}
