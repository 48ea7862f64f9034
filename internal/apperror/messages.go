package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Amount validation
	CodeZeroAmount:    "Amount must be greater than zero",
	CodeInvalidAmount: "Invalid amount",

	// Lifecycle preconditions
	CodePaused:            "Splitter is paused",
	CodePausedInsolvent:   "Splitter is paused and insolvent, burns are blocked",
	CodeLiquidationActive: "Liquidation is active, minting is disabled",
	CodeNotLiquidated:     "Splitter is not liquidated",
	CodeAlreadyLiquidated: "Splitter is already liquidated",
	CodeCapNotBreached:    "Price has not reached the cap",

	// Oracle errors
	CodeStalePrice:           "Oracle price is stale",
	CodeInvalidPrice:         "Oracle returned an invalid price",
	CodeSequencerDown:        "Sequencer is down",
	CodeSequencerGracePeriod: "Sequencer restarted, grace period not elapsed",
	CodeOracleUnavailable:    "Price oracle is unavailable",

	// Collateral / liquidity errors
	CodeInsufficientBalance:   "Insufficient token balance",
	CodeInsufficientLiquidity: "Insufficient collateral liquidity for payout",
	CodeVaultShortfall:        "Yield vault returned less than requested",
	CodeVaultUnavailable:      "Yield vault is unavailable",

	// Adapter migration errors
	CodeTimelockActive:       "Adapter migration timelock has not elapsed",
	CodeNoPendingAdapter:     "No adapter migration is pending",
	CodeProposalPending:      "An adapter migration is already pending",
	CodeAdapterAssetMismatch: "Proposed adapter uses a different collateral asset",

	// Harvest errors
	CodeNoSurplus:           "No harvestable surplus",
	CodeHarvestBelowMinimum: "Surplus is below the minimum harvest threshold",
	CodeHarvestCooldown:     "Harvest cooldown has not elapsed",

	// Access control
	CodeUnauthorized:  "Caller is not authorized for this operation",
	CodeReentrantCall: "Reentrant call rejected",

	// On-chain access errors
	CodeEthereumConnectionFailed: "Failed to connect to Ethereum node",
	CodeEthereumRPCError:         "Ethereum RPC call failed",
	CodeContractCallFailed:       "Smart contract call failed",

	// Price feed errors
	CodeFeedConnectionFailed: "Failed to connect to price feed",
	CodeFeedClosed:           "Price feed connection closed",
	CodeFeedParseError:       "Failed to parse price feed message",

	// Circuit breaker errors
	CodeCircuitOpen: "Circuit breaker is open",
}
