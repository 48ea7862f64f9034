// Package app contains application services for the token context.
package app

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/internal/asset"
)

// Pair bundles the BEAR and BULL ledgers and enforces matched supply
// changes. Only the engine (the ledgers' controller) can move supply, and
// outside of liquidation it can only do so on both ledgers at once.
type Pair struct {
	engine common.Address
	bear   *domain.Ledger
	bull   *domain.Ledger
}

// NewPair creates the paired ledgers controlled by the engine address.
func NewPair(engine common.Address, bearAsset, bullAsset *asset.Asset) *Pair {
	return &Pair{
		engine: engine,
		bear:   domain.NewLedger(bearAsset, engine),
		bull:   domain.NewLedger(bullAsset, engine),
	}
}

// MintMatched mints the same amount of BEAR and BULL to the account.
func (p *Pair) MintMatched(to common.Address, amount *big.Int) error {
	if err := p.bear.Mint(p.engine, to, amount); err != nil {
		return err
	}
	if err := p.bull.Mint(p.engine, to, amount); err != nil {
		// Roll back the bear mint so supplies stay matched.
		_ = p.bear.Burn(p.engine, to, amount)
		return err
	}
	return nil
}

// BurnMatched burns the same amount of BEAR and BULL from the account.
func (p *Pair) BurnMatched(from common.Address, amount *big.Int) error {
	if err := p.bear.Burn(p.engine, from, amount); err != nil {
		return err
	}
	if err := p.bull.Burn(p.engine, from, amount); err != nil {
		_ = p.bear.Mint(p.engine, from, amount)
		return err
	}
	return nil
}

// BurnBear burns BEAR only. Used exclusively by post-liquidation emergency
// redemption; BULL becomes a worthless residual.
func (p *Pair) BurnBear(from common.Address, amount *big.Int) error {
	return p.bear.Burn(p.engine, from, amount)
}

// HasMatchedBalance reports whether the account holds at least amount of
// both tokens.
func (p *Pair) HasMatchedBalance(addr common.Address, amount *big.Int) bool {
	return p.bear.BalanceOf(addr).Cmp(amount) >= 0 &&
		p.bull.BalanceOf(addr).Cmp(amount) >= 0
}

// BearSupply returns the BEAR total supply.
func (p *Pair) BearSupply() *big.Int {
	return p.bear.TotalSupply()
}

// BullSupply returns the BULL total supply.
func (p *Pair) BullSupply() *big.Int {
	return p.bull.TotalSupply()
}

// Bear returns the BEAR ledger.
func (p *Pair) Bear() *domain.Ledger {
	return p.bear
}

// Bull returns the BULL ledger.
func (p *Pair) Bull() *domain.Ledger {
	return p.bull
}
