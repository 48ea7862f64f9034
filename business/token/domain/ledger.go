// Package domain contains the core domain types for the token context.
package domain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nkozak/capsplit/internal/asset"
)

// Common errors
var (
	ErrNilAmount             = errors.New("token: nil amount")
	ErrZeroAmount            = errors.New("token: amount must be positive")
	ErrNotController         = errors.New("token: caller is not the ledger controller")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// ModuleAddress derives a deterministic address for an internal actor
// (engine, treasury, sim vault) from a name. Used for ledger accounts that
// have no externally owned key.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(common.RightPadBytes([]byte("capsplit:"+name), 20))
}

// Ledger is a mutex-guarded ERC20-style balance ledger for a single asset.
// Mint and burn are restricted to the controller account; everything else
// follows ordinary transfer/approve semantics. All amounts are raw base
// units and must be positive.
type Ledger struct {
	asset      *asset.Asset
	controller common.Address

	mu          sync.RWMutex
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	totalSupply *big.Int
}

// NewLedger creates an empty ledger for the asset, controlled by controller.
func NewLedger(a *asset.Asset, controller common.Address) *Ledger {
	if a == nil {
		panic(asset.ErrNilAsset)
	}
	return &Ledger{
		asset:       a,
		controller:  controller,
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

// Asset returns the asset this ledger tracks.
func (l *Ledger) Asset() *asset.Asset {
	return l.asset
}

// Controller returns the account allowed to mint and burn.
func (l *Ledger) Controller() common.Address {
	return l.controller
}

// Mint credits amount to the account. Caller must be the controller.
func (l *Ledger) Mint(caller, to common.Address, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if caller != l.controller {
		return fmt.Errorf("%w: %s", ErrNotController, caller.Hex())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(to, amount)
	l.totalSupply.Add(l.totalSupply, amount)
	return nil
}

// Burn debits amount from the account. Caller must be the controller.
func (l *Ledger) Burn(caller, from common.Address, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if caller != l.controller {
		return fmt.Errorf("%w: %s", ErrNotController, caller.Hex())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.totalSupply.Sub(l.totalSupply, amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

// Approve sets the spender allowance for the owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if amount.Sign() < 0 {
		return ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// TransferFrom moves amount from owner to recipient, consuming the spender's
// allowance.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowanceLocked(owner, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %s < %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := l.debit(owner, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	l.allowances[owner][spender] = allowance.Sub(allowance, amount)
	return nil
}

// BalanceOf returns a copy of the account's balance.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// TotalSupply returns a copy of the total supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalSupply)
}

// Allowance returns a copy of the spender's allowance on the owner's balance.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.allowanceLocked(owner, spender))
}

func (l *Ledger) allowanceLocked(owner, spender common.Address) *big.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return big.NewInt(0)
}

func (l *Ledger) credit(to common.Address, amount *big.Int) {
	if b, ok := l.balances[to]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[to] = new(big.Int).Set(amount)
}

func (l *Ledger) debit(from common.Address, amount *big.Int) error {
	b, ok := l.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), l.balanceString(from), amount)
	}
	b.Sub(b, amount)
	return nil
}

func (l *Ledger) balanceString(addr common.Address) string {
	if b, ok := l.balances[addr]; ok {
		return b.String()
	}
	return "0"
}

func validateAmount(amount *big.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return nil
}
