package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	// General validation
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Splitter-specific error codes
const (
	// Amount validation
	CodeZeroAmount    Code = "ZERO_AMOUNT"
	CodeInvalidAmount Code = "INVALID_AMOUNT"

	// Lifecycle preconditions
	CodePaused            Code = "PAUSED"
	CodePausedInsolvent   Code = "PAUSED_INSOLVENT"
	CodeLiquidationActive Code = "LIQUIDATION_ACTIVE"
	CodeNotLiquidated     Code = "NOT_LIQUIDATED"
	CodeAlreadyLiquidated Code = "ALREADY_LIQUIDATED"
	CodeCapNotBreached    Code = "CAP_NOT_BREACHED"

	// Oracle errors
	CodeStalePrice           Code = "STALE_PRICE"
	CodeInvalidPrice         Code = "INVALID_PRICE"
	CodeSequencerDown        Code = "SEQUENCER_DOWN"
	CodeSequencerGracePeriod Code = "SEQUENCER_GRACE_PERIOD"
	CodeOracleUnavailable    Code = "ORACLE_UNAVAILABLE"

	// Collateral / liquidity errors
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	CodeVaultShortfall        Code = "VAULT_SHORTFALL"
	CodeVaultUnavailable      Code = "VAULT_UNAVAILABLE"

	// Adapter migration errors
	CodeTimelockActive       Code = "TIMELOCK_ACTIVE"
	CodeNoPendingAdapter     Code = "NO_PENDING_ADAPTER"
	CodeProposalPending      Code = "PROPOSAL_PENDING"
	CodeAdapterAssetMismatch Code = "ADAPTER_ASSET_MISMATCH"

	// Harvest errors
	CodeNoSurplus           Code = "NO_SURPLUS"
	CodeHarvestBelowMinimum Code = "HARVEST_BELOW_MINIMUM"
	CodeHarvestCooldown     Code = "HARVEST_COOLDOWN"

	// Access control
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeReentrantCall Code = "REENTRANT_CALL"

	// On-chain access errors
	CodeEthereumConnectionFailed Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumRPCError         Code = "ETHEREUM_RPC_ERROR"
	CodeContractCallFailed       Code = "CONTRACT_CALL_FAILED"

	// Price feed errors
	CodeFeedConnectionFailed Code = "FEED_CONNECTION_FAILED"
	CodeFeedClosed           Code = "FEED_CLOSED"
	CodeFeedParseError       Code = "FEED_PARSE_ERROR"

	// Circuit breaker errors
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)
