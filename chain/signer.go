// Package chain wraps the custodial relay key and the JSON-RPC client behind
// the small surface the decision engine needs: gas estimation, fee-data
// reads, and transaction broadcast.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	linklockr "github.com/cynamonster/linklockr"
)

// Config configures the relay signer.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of the target network.
	RPCURL string

	// PrivateKeyHex is the hex-encoded custodial relay key (with or without
	// "0x" prefix). Loaded once at startup; never derived from request
	// input and never returned to clients.
	PrivateKeyHex string

	// ContractAddress is the LinkLockr storefront contract.
	ContractAddress string

	// TokenAddress is the EIP-2612 stable token used on the permit path.
	// Optional; permit submission fails if unset.
	TokenAddress string
}

// Signer holds the relay credential and the RPC connection. It is safe for
// concurrent use; all mutable state lives on-chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	client     *ethclient.Client
	chainID    *big.Int
	contract   common.Address
	token      common.Address

	contractABI abi.ABI
	permitABI   abi.ABI
}

// NewSigner dials the RPC endpoint and derives the relay address from the
// custodial key.
func NewSigner(ctx context.Context, config Config) (*Signer, error) {
	keyHex := strings.TrimPrefix(config.PrivateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid relay private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if chainID.Cmp(ChainIDBase) != 0 {
		log.Printf("warning: rpc chain id %s is not Base (%s)", chainID, ChainIDBase)
	}

	contractABI, err := abi.JSON(strings.NewReader(string(LinkLockrABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}
	permitABI, err := abi.JSON(strings.NewReader(string(ERC20PermitABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse permit ABI: %w", err)
	}

	return &Signer{
		privateKey:  privateKey,
		address:     crypto.PubkeyToAddress(privateKey.PublicKey),
		client:      client,
		chainID:     chainID,
		contract:    common.HexToAddress(config.ContractAddress),
		token:       common.HexToAddress(config.TokenAddress),
		contractABI: contractABI,
		permitABI:   permitABI,
	}, nil
}

// Address returns the relay's sender address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// TokenID derives the ERC-1155 token id for a slug: keccak256 of the raw
// slug bytes interpreted as uint256, matching the contract's mint.
func TokenID(slug string) *big.Int {
	hash := crypto.Keccak256Hash([]byte(slug))
	return new(big.Int).SetBytes(hash.Bytes())
}

// SlugHash returns the hex form of the slug's keccak256 digest, the value
// stored in the catalog's id_hash column.
func SlugHash(slug string) string {
	return crypto.Keccak256Hash([]byte(slug)).Hex()
}

// packBuy encodes the buyLink calldata with the exact relay arguments.
func (s *Signer) packBuy(slug, buyer, feeRecipient string, feeBps *big.Int) ([]byte, error) {
	data, err := s.contractABI.Pack(
		FunctionBuyLink,
		slug,
		common.HexToAddress(buyer),
		common.HexToAddress(feeRecipient),
		feeBps,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", FunctionBuyLink, err)
	}
	return data, nil
}

// EstimateBuyGas dry-runs the purchase call with the exact arguments and
// value that would be sent. A revert here (item sold, contract paused)
// surfaces as an error; callers must not substitute a default.
func (s *Signer) EstimateBuyGas(ctx context.Context, slug, buyer, feeRecipient string, feeBps, value *big.Int) (uint64, error) {
	data, err := s.packBuy(slug, buyer, feeRecipient, feeBps)
	if err != nil {
		return 0, err
	}

	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &s.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, fmt.Errorf("gas estimate failed: %w", err)
	}
	return gas, nil
}

// GasPrice reads the current network gas price.
func (s *Signer) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee data: %w", err)
	}
	return price, nil
}

// SubmitBuy signs and broadcasts the purchase transaction using the gas
// limit and price already settled on by the decision gate. It returns the
// transaction hash at broadcast time without waiting for confirmation.
func (s *Signer) SubmitBuy(ctx context.Context, slug, buyer, feeRecipient string, feeBps, value *big.Int, gasLimit uint64, gasPrice *big.Int) (string, error) {
	data, err := s.packBuy(slug, buyer, feeRecipient, feeBps)
	if err != nil {
		return "", err
	}
	return s.send(ctx, s.contract, value, data, gasLimit, gasPrice)
}

// SubmitPermit broadcasts the buyer's EIP-2612 permit as its own
// transaction against the stable token.
func (s *Signer) SubmitPermit(ctx context.Context, permit linklockr.PermitAuthorization) (string, error) {
	if s.token == (common.Address{}) {
		return "", fmt.Errorf("no permit token configured")
	}

	// ABI packing reduces oversized words mod 2^256 silently; an
	// out-of-range value would broadcast mangled and revert.
	value, ok := new(big.Int).SetString(permit.Value, 10)
	if !ok || value.Sign() < 0 || value.BitLen() > 256 {
		return "", fmt.Errorf("invalid permit value: %q", permit.Value)
	}

	data, err := s.permitABI.Pack(
		FunctionPermit,
		common.HexToAddress(permit.Owner),
		common.HexToAddress(permit.Spender),
		value,
		big.NewInt(permit.Deadline),
		permit.V,
		common.HexToHash(permit.R),
		common.HexToHash(permit.S),
	)
	if err != nil {
		return "", fmt.Errorf("failed to pack permit call: %w", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		gasPrice = DefaultGasPriceWei
	}
	return s.send(ctx, s.token, nil, data, PermitGasLimit, gasPrice)
}

// WaitMined polls for the receipt of a broadcast transaction and returns
// its status. It respects context cancellation.
func (s *Signer) WaitMined(ctx context.Context, txHash string) (uint64, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt.Status, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return 0, fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// BalanceOf reads the buyer's ERC-1155 balance for a slug's token id.
func (s *Signer) BalanceOf(ctx context.Context, owner, slug string) (*big.Int, error) {
	data, err := s.contractABI.Pack(FunctionBalanceOf, common.HexToAddress(owner), TokenID(slug))
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", FunctionBalanceOf, err)
	}

	result, err := s.client.CallContract(ctx, ethereum.CallMsg{
		To:   &s.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := s.contractABI.Unpack(FunctionBalanceOf, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", FunctionBalanceOf, err)
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from %s", FunctionBalanceOf)
	}
	return balance, nil
}

// send signs and broadcasts a transaction from the relay address.
func (s *Signer) send(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64, gasPrice *big.Int) (string, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}
