// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Run modes.
const (
	ModeSim     = "sim"     // in-memory oracle, vault and ledgers
	ModeOnChain = "onchain" // Chainlink oracle + ERC-4626 vault over RPC
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Splitter  SplitterConfig  `mapstructure:"splitter"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Health    HealthConfig    `mapstructure:"health"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	Mode        string `mapstructure:"mode"`
	TUIMode     bool   `mapstructure:"-"` // Set at runtime, not from config file
}

// SplitterConfig holds the splitter engine parameters.
type SplitterConfig struct {
	// Cap is the fixed price ceiling in collateral units, e.g. "2.00".
	// Stored internally as an 8-decimal fixed-point integer.
	Cap string `mapstructure:"cap"`

	CollateralSymbol   string `mapstructure:"collateral_symbol"`
	CollateralChainID  uint64 `mapstructure:"collateral_chain_id"`
	CollateralDecimals uint8  `mapstructure:"collateral_decimals"`
	TokenDecimals      uint8  `mapstructure:"token_decimals"`

	BufferTargetBps uint32 `mapstructure:"buffer_target_bps"`

	OperatorAddress string `mapstructure:"operator_address"`
	TreasuryAddress string `mapstructure:"treasury_address"`
	StakingAddress  string `mapstructure:"staking_address"`

	// SolvencyToleranceUnits absorbs integer rounding in the solvency check,
	// in collateral base units.
	SolvencyToleranceUnits int64 `mapstructure:"solvency_tolerance_units"`

	AdapterDelay          time.Duration `mapstructure:"adapter_delay"`
	AllowAfterLiquidation bool          `mapstructure:"allow_after_liquidation"`

	Harvest HarvestConfig `mapstructure:"harvest"`
}

// HarvestConfig holds surplus harvesting policy.
type HarvestConfig struct {
	CallerRewardBps  uint32        `mapstructure:"caller_reward_bps"`
	TreasurySplitBps uint32        `mapstructure:"treasury_split_bps"`
	MinSurplus       string        `mapstructure:"min_surplus"` // decimal, collateral units
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// OracleConfig holds price oracle configuration.
type OracleConfig struct {
	Source         string        `mapstructure:"source"` // chainlink | feed | manual
	MaxStaleness   time.Duration `mapstructure:"max_staleness"`
	Aggregator     string        `mapstructure:"aggregator_address"`
	SequencerFeed  string        `mapstructure:"sequencer_feed_address"` // optional
	SequencerGrace time.Duration `mapstructure:"sequencer_grace_period"`
	FeedURL        string        `mapstructure:"feed_url"`
	FeedSymbol     string        `mapstructure:"feed_symbol"`
}

// VaultConfig holds yield adapter configuration.
type VaultConfig struct {
	Kind    string `mapstructure:"kind"` // sim | erc4626
	Address string `mapstructure:"address"`

	// Sim vault knobs
	SimAPRBps       uint32 `mapstructure:"sim_apr_bps"`
	SimLiquidityCap string `mapstructure:"sim_liquidity_cap"` // decimal, collateral units; empty = unlimited
}

// EthereumConfig holds Ethereum node configuration.
type EthereumConfig struct {
	HTTPURL    string `mapstructure:"http_url"`
	ChainID    uint64 `mapstructure:"chain_id"`
	PrivateKey string `mapstructure:"private_key"` // hex, no 0x prefix; only for onchain vault writes
}

// WatcherConfig holds the liquidation watcher configuration.
type WatcherConfig struct {
	SampleInterval   time.Duration `mapstructure:"sample_interval"`
	SamplesPerMinute int           `mapstructure:"samples_per_minute"`
	HarvestEnabled   bool          `mapstructure:"harvest_enabled"`
	HarvestInterval  time.Duration `mapstructure:"harvest_interval"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// HealthConfig holds the health server configuration.
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// CapRaw returns the cap as an 8-decimal fixed-point integer.
func (c *SplitterConfig) CapRaw() (*big.Int, error) {
	d, err := decimal.NewFromString(c.Cap)
	if err != nil {
		return nil, fmt.Errorf("invalid splitter.cap %q: %w", c.Cap, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("splitter.cap must be positive, got %q", c.Cap)
	}
	return d.Shift(8).BigInt(), nil
}

// OperatorAddressHex returns the operator address as common.Address.
func (c *SplitterConfig) OperatorAddressHex() common.Address {
	return common.HexToAddress(c.OperatorAddress)
}

// TreasuryAddressHex returns the treasury address as common.Address.
func (c *SplitterConfig) TreasuryAddressHex() common.Address {
	return common.HexToAddress(c.TreasuryAddress)
}

// StakingAddressHex returns the staking receiver address as common.Address.
func (c *SplitterConfig) StakingAddressHex() common.Address {
	return common.HexToAddress(c.StakingAddress)
}

// AggregatorAddressHex returns the price aggregator address.
func (c *OracleConfig) AggregatorAddressHex() common.Address {
	return common.HexToAddress(c.Aggregator)
}

// SequencerFeedAddressHex returns the sequencer uptime feed address.
func (c *OracleConfig) SequencerFeedAddressHex() common.Address {
	return common.HexToAddress(c.SequencerFeed)
}

// VaultAddressHex returns the on-chain vault address.
func (c *VaultConfig) VaultAddressHex() common.Address {
	return common.HexToAddress(c.Address)
}

// MinSurplusDecimal returns the minimum harvestable surplus as a decimal.
func (c *HarvestConfig) MinSurplusDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MinSurplus)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("CAPSPLIT")
	v.AutomaticEnv()

	// Bind env vars to config keys
	bindEnvVars(v)

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "CAPSPLIT_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "CAPSPLIT_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "CAPSPLIT_LOG_LEVEL", "LOG_LEVEL")
	v.BindEnv("app.mode", "CAPSPLIT_MODE")

	// Splitter
	v.BindEnv("splitter.cap", "CAPSPLIT_CAP")
	v.BindEnv("splitter.operator_address", "CAPSPLIT_OPERATOR")
	v.BindEnv("splitter.treasury_address", "CAPSPLIT_TREASURY")
	v.BindEnv("splitter.staking_address", "CAPSPLIT_STAKING")

	// Oracle
	v.BindEnv("oracle.aggregator_address", "CAPSPLIT_ORACLE_AGGREGATOR")
	v.BindEnv("oracle.sequencer_feed_address", "CAPSPLIT_ORACLE_SEQUENCER_FEED")
	v.BindEnv("oracle.feed_url", "CAPSPLIT_ORACLE_FEED_URL")

	// Vault
	v.BindEnv("vault.address", "CAPSPLIT_VAULT_ADDRESS")

	// Ethereum
	v.BindEnv("ethereum.http_url", "CAPSPLIT_ETH_HTTP_URL", "ETH_HTTP_URL")
	v.BindEnv("ethereum.chain_id", "CAPSPLIT_ETH_CHAIN_ID", "ETH_CHAIN_ID")
	v.BindEnv("ethereum.private_key", "CAPSPLIT_ETH_PRIVATE_KEY", "ETH_PRIVATE_KEY")

	// Telemetry
	v.BindEnv("telemetry.enabled", "CAPSPLIT_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "CAPSPLIT_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "CAPSPLIT_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "capsplit")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.mode", ModeSim)

	// Splitter defaults: $2.00 cap over 6-decimal collateral, 18-decimal pair
	v.SetDefault("splitter.cap", "2.00")
	v.SetDefault("splitter.collateral_symbol", "USDC")
	v.SetDefault("splitter.collateral_chain_id", 1)
	v.SetDefault("splitter.collateral_decimals", 6)
	v.SetDefault("splitter.token_decimals", 18)
	v.SetDefault("splitter.buffer_target_bps", 1000) // keep 10% local
	v.SetDefault("splitter.solvency_tolerance_units", 10)
	v.SetDefault("splitter.adapter_delay", "168h") // 7 days
	v.SetDefault("splitter.allow_after_liquidation", true)
	v.SetDefault("splitter.harvest.caller_reward_bps", 50) // 0.5%
	v.SetDefault("splitter.harvest.treasury_split_bps", 5000)
	v.SetDefault("splitter.harvest.min_surplus", "10")
	v.SetDefault("splitter.harvest.cooldown", "1h")

	// Oracle defaults
	v.SetDefault("oracle.source", "manual")
	v.SetDefault("oracle.max_staleness", "1h")
	v.SetDefault("oracle.sequencer_grace_period", "1h")
	v.SetDefault("oracle.feed_symbol", "STETHUSD")

	// Vault defaults
	v.SetDefault("vault.kind", "sim")
	v.SetDefault("vault.sim_apr_bps", 400) // 4% APR
	v.SetDefault("vault.sim_liquidity_cap", "")

	// Ethereum defaults
	v.SetDefault("ethereum.chain_id", 1)

	// Watcher defaults
	v.SetDefault("watcher.sample_interval", "15s")
	v.SetDefault("watcher.samples_per_minute", 10)
	v.SetDefault("watcher.harvest_enabled", false)
	v.SetDefault("watcher.harvest_interval", "1h")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "capsplit")
	v.SetDefault("telemetry.prometheus_port", 9090)

	// Health defaults
	v.SetDefault("health.port", 8081)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.App.Mode != ModeSim && c.App.Mode != ModeOnChain {
		return fmt.Errorf("app.mode must be %q or %q, got %q", ModeSim, ModeOnChain, c.App.Mode)
	}
	if _, err := c.Splitter.CapRaw(); err != nil {
		return err
	}
	if c.Splitter.BufferTargetBps > 10000 {
		return fmt.Errorf("splitter.buffer_target_bps must be <= 10000, got %d", c.Splitter.BufferTargetBps)
	}
	if c.Splitter.TokenDecimals < c.Splitter.CollateralDecimals {
		return fmt.Errorf("splitter.token_decimals (%d) must be >= collateral_decimals (%d)",
			c.Splitter.TokenDecimals, c.Splitter.CollateralDecimals)
	}
	if c.Splitter.Harvest.CallerRewardBps+c.Splitter.Harvest.TreasurySplitBps > 10000 {
		return fmt.Errorf("harvest caller_reward_bps + treasury_split_bps must be <= 10000")
	}
	if c.App.Mode == ModeOnChain {
		if c.Ethereum.HTTPURL == "" {
			return fmt.Errorf("ethereum.http_url is required in onchain mode")
		}
		if !common.IsHexAddress(c.Oracle.Aggregator) {
			return fmt.Errorf("invalid oracle.aggregator_address: %s", c.Oracle.Aggregator)
		}
		if c.Vault.Kind == "erc4626" && !common.IsHexAddress(c.Vault.Address) {
			return fmt.Errorf("invalid vault.address: %s", c.Vault.Address)
		}
	}
	if c.Splitter.OperatorAddress != "" && !common.IsHexAddress(c.Splitter.OperatorAddress) {
		return fmt.Errorf("invalid splitter.operator_address: %s", c.Splitter.OperatorAddress)
	}
	return nil
}
