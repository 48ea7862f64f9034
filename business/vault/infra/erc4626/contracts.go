package erc4626

// ERC4626ABI covers the tokenized-vault methods the adapter uses.
const ERC4626ABI = `[
	{
		"name": "asset",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "address"}]
	},
	{
		"name": "totalAssets",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "convertToAssets",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "shares", "type": "uint256"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "maxWithdraw",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"name": "deposit",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "assets", "type": "uint256"},
			{"name": "receiver", "type": "address"}
		],
		"outputs": [{"name": "shares", "type": "uint256"}]
	},
	{
		"name": "withdraw",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "assets", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "owner", "type": "address"}
		],
		"outputs": [{"name": "shares", "type": "uint256"}]
	}
]`

// ERC20ABI covers the allowance methods needed before depositing.
const ERC20ABI = `[
	{
		"name": "approve",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"name": "allowance",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	}
]`
