package asset

import "github.com/ethereum/go-ethereum/common"

// Chain IDs
const (
	ChainIDEthereum = 1
	ChainIDSepolia  = 11155111
	ChainIDArbitrum = 42161
	ChainIDBase     = 8453
	ChainIDOffChain = 0 // engine ledgers / synthetics
)

// Well-known collateral token addresses
var (
	AddrUSDCEthereum = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	AddrUSDCArbitrum = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	AddrUSDCBase     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	AddrDAIEthereum  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

// Well-known AssetIDs
var (
	IDEthereumUSDC = NewTokenAssetID(ChainIDEthereum, AddrUSDCEthereum)
	IDArbitrumUSDC = NewTokenAssetID(ChainIDArbitrum, AddrUSDCArbitrum)
	IDBaseUSDC     = NewTokenAssetID(ChainIDBase, AddrUSDCBase)
	IDEthereumDAI  = NewTokenAssetID(ChainIDEthereum, AddrDAIEthereum)

	IDBear = NewSyntheticAssetID("BEAR")
	IDBull = NewSyntheticAssetID("BULL")
)

// Well-known Assets (pre-created instances)
var (
	// Collateral candidates
	USDC         = NewAssetWithName(IDEthereumUSDC, "USDC", "USD Coin", 6)
	USDCArbitrum = NewAssetWithName(IDArbitrumUSDC, "USDC", "USD Coin (Arbitrum)", 6)
	USDCBase     = NewAssetWithName(IDBaseUSDC, "USDC", "USD Coin (Base)", 6)
	DAI          = NewAssetWithName(IDEthereumDAI, "DAI", "Dai Stablecoin", 18)

	// Synthetic pair minted by the splitter, 18 decimals each
	BEAR = NewAssetWithName(IDBear, "BEAR", "Capped Bear Token", 18)
	BULL = NewAssetWithName(IDBull, "BULL", "Capped Bull Token", 18)
)

// DefaultRegistry returns a registry pre-populated with well-known assets.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(USDC)
	r.Register(USDCArbitrum)
	r.Register(USDCBase)
	r.Register(DAI)

	r.Register(BEAR)
	r.Register(BULL)

	return r
}

// MustNewToken creates a new ERC20 token asset with the given parameters.
// This is a convenience function for registering custom collateral tokens.
func MustNewToken(chainID uint64, address common.Address, symbol, name string, decimals uint8) *Asset {
	id := NewTokenAssetID(chainID, address)
	return NewAssetWithName(id, symbol, name, decimals)
}

// MustNewSynthetic creates a new synthetic asset minted by the engine.
func MustNewSynthetic(symbol, name string, decimals uint8) *Asset {
	id := NewSyntheticAssetID(symbol)
	return NewAssetWithName(id, symbol, name, decimals)
}
