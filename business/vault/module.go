// Package vault implements the yield adapter bounded context. It provides
// the engine's active vault: simulated in sim mode, an ERC-4626 contract
// in onchain mode.
package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	splitterApp "github.com/nkozak/capsplit/business/splitter/app"
	"github.com/nkozak/capsplit/business/token"
	tokenDI "github.com/nkozak/capsplit/business/token/di"
	vaultDI "github.com/nkozak/capsplit/business/vault/di"
	"github.com/nkozak/capsplit/business/vault/infra/erc4626"
	"github.com/nkozak/capsplit/business/vault/infra/sim"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/config"
	"github.com/nkozak/capsplit/internal/di"
	"github.com/nkozak/capsplit/internal/logger"
	"github.com/nkozak/capsplit/internal/monolith"
)

// Adapter kinds accepted in vault.kind.
const (
	KindSim     = "sim"
	KindERC4626 = "erc4626"
)

// Module implements the vault bounded context.
type Module struct{}

// RegisterServices registers all vault services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, vaultDI.ActiveVault, func(sr di.ServiceRegistry) splitterApp.YieldVault {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		switch cfg.Vault.Kind {
		case KindSim:
			return m.buildSimVault(sr, cfg, log)
		case KindERC4626:
			return m.buildERC4626Vault(sr, cfg, log)
		default:
			panic(fmt.Sprintf("unknown vault.kind %q", cfg.Vault.Kind))
		}
	})

	return nil
}

func (m *Module) buildSimVault(sr di.ServiceRegistry, cfg *config.Config, log logger.LoggerInterface) splitterApp.YieldVault {
	ledger := tokenDI.GetCollateralLedger(sr)

	simCfg := sim.Config{
		APRBps: cfg.Vault.SimAPRBps,
		Minter: token.BankAddress,
	}
	if cfg.Vault.SimLiquidityCap != "" {
		capAmount, err := asset.ParseString(ledger.Asset(), cfg.Vault.SimLiquidityCap)
		if err != nil {
			panic("invalid vault.sim_liquidity_cap: " + err.Error())
		}
		simCfg.LiquidityCap = new(big.Int).Set(capAmount.Raw())
	}

	v, err := sim.New(simCfg, ledger, log)
	if err != nil {
		panic("failed to create sim vault: " + err.Error())
	}
	return v
}

func (m *Module) buildERC4626Vault(sr di.ServiceRegistry, cfg *config.Config, log logger.LoggerInterface) splitterApp.YieldVault {
	client := sr.Get("ethClient").(*ethclient.Client)
	registry := sr.Get("assetRegistry").(*asset.Registry)

	collateral, ok := registry.GetBySymbolAndChain(cfg.Splitter.CollateralSymbol, cfg.Splitter.CollateralChainID)
	if !ok {
		panic(fmt.Sprintf("collateral asset %s not registered", cfg.Splitter.CollateralSymbol))
	}

	key, err := crypto.HexToECDSA(cfg.Ethereum.PrivateKey)
	if err != nil {
		panic("invalid ethereum.private_key: " + err.Error())
	}

	v, err := erc4626.NewVault(client, cfg.Vault.VaultAddressHex(), collateral, key, cfg.Ethereum.ChainID, log)
	if err != nil {
		panic("failed to create erc4626 vault: " + err.Error())
	}
	return v
}

// Startup initializes the vault module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	v := vaultDI.GetActiveVault(mono.Services())
	mono.Logger().Info(ctx, "vault module started",
		"adapter", v.Name(),
		"collateral", v.Collateral().Symbol())
	return nil
}
