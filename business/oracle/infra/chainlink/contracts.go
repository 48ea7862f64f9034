package chainlink

// AggregatorV3ABI is the ABI for Chainlink AggregatorV3Interface.
// Only includes latestRoundData and decimals, which are all we read.
// Sequencer uptime feeds expose the same interface: answer 0 means the
// sequencer is up, 1 means down, and startedAt is when the status changed.
const AggregatorV3ABI = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"internalType": "uint80", "name": "roundId", "type": "uint80"},
			{"internalType": "int256", "name": "answer", "type": "int256"},
			{"internalType": "uint256", "name": "startedAt", "type": "uint256"},
			{"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
			{"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [
			{"internalType": "uint8", "name": "", "type": "uint8"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Sequencer uptime feed answer values.
const (
	sequencerUp   = 0
	sequencerDown = 1
)
