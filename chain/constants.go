package chain

import "math/big"

const (
	// Contract function names
	FunctionBuyLink   = "buyLink"
	FunctionBalanceOf = "balanceOf"
	FunctionPermit    = "permit"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0
)

var (
	// ChainIDBase is the Base mainnet chain id, the network the storefront
	// contract is deployed on.
	ChainIDBase = big.NewInt(8453)

	// DefaultGasPriceWei is the conservative gas price assumed when the RPC
	// fee-data read fails (0.1 gwei). It only feeds the profitability
	// estimate, never transaction validity.
	DefaultGasPriceWei = big.NewInt(100000000)

	// PermitGasLimit bounds the standalone EIP-2612 permit transaction.
	PermitGasLimit = uint64(90000)

	// LinkLockrABI covers the storefront contract surface the relay needs:
	// the payable purchase call and the ERC-1155 ownership read.
	LinkLockrABI = []byte(`[
		{
			"inputs": [
				{"name": "_slug", "type": "string"},
				{"name": "_recipient", "type": "address"},
				{"name": "_feeRecipient", "type": "address"},
				{"name": "_feeBps", "type": "uint256"}
			],
			"name": "buyLink",
			"outputs": [],
			"stateMutability": "payable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "id", "type": "uint256"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ERC20PermitABI is the EIP-2612 permit entrypoint on the stable token.
	ERC20PermitABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "permit",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
)
