package usecases

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"x402-market.backend/internal/config"
	"x402-market.backend/internal/infrastructure/blockchain"
)

var (
	ServiceRegistryABI = mustParseABI(`[
		{"inputs":[{"internalType":"bytes32","name":"serviceId","type":"bytes32"},{"internalType":"address","name":"provider","type":"address"},{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"endpoint","type":"string"}],"name":"registerService","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"internalType":"bytes32","name":"serviceId","type":"bytes32"},{"internalType":"uint256","name":"price","type":"uint256"}],"name":"updatePrice","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"internalType":"bytes32","name":"serviceId","type":"bytes32"},{"internalType":"bool","name":"active","type":"bool"}],"name":"setServiceActive","outputs":[],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"internalType":"bytes32","name":"serviceId","type":"bytes32"}],"name":"getService","outputs":[{"internalType":"address","name":"provider","type":"address"},{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"endpoint","type":"string"},{"internalType":"bool","name":"active","type":"bool"},{"internalType":"uint256","name":"createdAt","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`)
	EscrowABI = mustParseABI(`[
		{"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"providerBalances","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"platformFeePercent","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"internalType":"address","name":"provider","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"}
	]`)
	PaymentProcessorABI = mustParseABI(`[
		{"inputs":[{"internalType":"address","name":"","type":"address"},{"internalType":"bytes32","name":"","type":"bytes32"}],"name":"usedNonces","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"internalType":"bytes32","name":"serviceId","type":"bytes32"},{"internalType":"address","name":"from","type":"address"},{"internalType":"uint256","name":"value","type":"uint256"},{"internalType":"uint256","name":"validAfter","type":"uint256"},{"internalType":"uint256","name":"validBefore","type":"uint256"},{"internalType":"bytes32","name":"nonce","type":"bytes32"},{"internalType":"uint8","name":"v","type":"uint8"},{"internalType":"bytes32","name":"r","type":"bytes32"},{"internalType":"bytes32","name":"s","type":"bytes32"}],"name":"processPayment","outputs":[],"stateMutability":"nonpayable","type":"function"}
	]`)
	// EIP-3009 token surface. Only the receive-variant is used: the relayer
	// is never the from party, so transferWithAuthorization would revert.
	TokenABI = mustParseABI(`[
		{"inputs":[],"name":"name","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"internalType":"address","name":"from","type":"address"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"value","type":"uint256"},{"internalType":"uint256","name":"validAfter","type":"uint256"},{"internalType":"uint256","name":"validBefore","type":"uint256"},{"internalType":"bytes32","name":"nonce","type":"bytes32"},{"internalType":"uint8","name":"v","type":"uint8"},{"internalType":"bytes32","name":"r","type":"bytes32"},{"internalType":"bytes32","name":"s","type":"bytes32"}],"name":"receiveWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
	]`)
)

// RegistryService is the on-chain service record.
type RegistryService struct {
	Provider  common.Address
	Price     *big.Int
	Name      string
	Endpoint  string
	Active    bool
	CreatedAt *big.Int
}

// TokenInfo is the payment token metadata fetched once at startup. It feeds
// both challenge extras and the EIP-712 signing domain.
type TokenInfo struct {
	Name     string
	Symbol   string
	Decimals uint8
	Address  string
}

// ContractClient wraps the read side of the contract trio plus the token.
type ContractClient struct {
	client    *blockchain.EVMClient
	registry  string
	escrow    string
	processor string
	token     string
}

// NewContractClient creates a contract client over the configured addresses
func NewContractClient(client *blockchain.EVMClient, cfg config.BlockchainConfig) *ContractClient {
	return &ContractClient{
		client:    client,
		registry:  cfg.ServiceRegistryAddress,
		escrow:    cfg.EscrowAddress,
		processor: cfg.PaymentProcessorAddress,
		token:     cfg.TokenAddress,
	}
}

// GetService reads the registry record for a service id hash
func (c *ContractClient) GetService(ctx context.Context, idHash [32]byte) (*RegistryService, error) {
	data, err := ServiceRegistryABI.Pack("getService", idHash)
	if err != nil {
		return nil, err
	}
	out, err := c.client.CallView(ctx, c.registry, data)
	if err != nil {
		return nil, err
	}
	vals, err := ServiceRegistryABI.Unpack("getService", out)
	if err != nil || len(vals) != 6 {
		return nil, fmt.Errorf("failed to decode getService")
	}
	svc := &RegistryService{}
	var ok bool
	if svc.Provider, ok = vals[0].(common.Address); !ok {
		return nil, fmt.Errorf("invalid getService provider type")
	}
	if svc.Price, ok = vals[1].(*big.Int); !ok {
		return nil, fmt.Errorf("invalid getService price type")
	}
	svc.Name, _ = vals[2].(string)
	svc.Endpoint, _ = vals[3].(string)
	if svc.Active, ok = vals[4].(bool); !ok {
		return nil, fmt.Errorf("invalid getService active type")
	}
	svc.CreatedAt, _ = vals[5].(*big.Int)
	return svc, nil
}

// NonceUsed probes PaymentProcessor.usedNonces for a (payer, nonce) pair
func (c *ContractClient) NonceUsed(ctx context.Context, from string, nonce [32]byte) (bool, error) {
	return callTypedView[bool](ctx, c.client, c.processor, PaymentProcessorABI, "usedNonces", common.HexToAddress(from), nonce)
}

// ProviderBalance reads Escrow.providerBalances, the authoritative
// claimable amount
func (c *ContractClient) ProviderBalance(ctx context.Context, provider string) (*big.Int, error) {
	return callTypedView[*big.Int](ctx, c.client, c.escrow, EscrowABI, "providerBalances", common.HexToAddress(provider))
}

// PlatformFeePercent reads the on-chain fee in percent units
func (c *ContractClient) PlatformFeePercent(ctx context.Context) (*big.Int, error) {
	return callTypedView[*big.Int](ctx, c.client, c.escrow, EscrowABI, "platformFeePercent")
}

// FetchTokenInfo reads the token metadata used for challenges and the
// signing domain
func (c *ContractClient) FetchTokenInfo(ctx context.Context) (*TokenInfo, error) {
	name, err := callTypedView[string](ctx, c.client, c.token, TokenABI, "name")
	if err != nil {
		return nil, fmt.Errorf("token name: %w", err)
	}
	symbol, err := callTypedView[string](ctx, c.client, c.token, TokenABI, "symbol")
	if err != nil {
		return nil, fmt.Errorf("token symbol: %w", err)
	}
	decimals, err := callTypedView[uint8](ctx, c.client, c.token, TokenABI, "decimals")
	if err != nil {
		return nil, fmt.Errorf("token decimals: %w", err)
	}
	return &TokenInfo{
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
		Address:  strings.ToLower(c.token),
	}, nil
}

func callTypedView[T any](
	ctx context.Context,
	client *blockchain.EVMClient,
	contractAddress string,
	parsedABI abi.ABI,
	method string,
	args ...interface{},
) (T, error) {
	var zero T

	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return zero, err
	}
	out, err := client.CallView(ctx, contractAddress, data)
	if err != nil {
		return zero, err
	}
	vals, err := parsedABI.Unpack(method, out)
	if err != nil || len(vals) == 0 {
		return zero, fmt.Errorf("failed to decode %s", method)
	}
	value, ok := vals[0].(T)
	if !ok {
		return zero, fmt.Errorf("invalid %s return type", method)
	}
	return value, nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
