package usecases

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"x402-market.backend/internal/config"
	"x402-market.backend/internal/domain/entities"
	"x402-market.backend/pkg/logger"
	"x402-market.backend/pkg/metrics"
)

// Hardcoded gas limits. estimateGas on the target chain reports
// UNPREDICTABLE_GAS_LIMIT for the nested processor call even though it
// mines fine, so limits are fixed empirically with headroom.
const (
	processorGasLimit   = 600_000
	directTokenGasLimit = 250_000
	adminTxGasLimit     = 400_000

	receiptPollInterval = time.Second
)

// ChainBackend is the narrow chain surface the relayer needs. EVMClient
// implements it; tests substitute a fake.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	GetTransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

// Relayer owns the gateway's signing identity and submits settlement
// transactions. Account nonces are allocated from a local counter synced
// once at startup; sends never round-trip to the chain for a nonce.
type Relayer struct {
	backend ChainBackend
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer

	processor string
	escrow    string
	registry  string
	token     string

	optimistic          bool
	confirmationTimeout time.Duration

	mu        sync.Mutex
	nextNonce uint64
	freed     []uint64
	synced    bool

	revertSink func(payer, txHash string)
}

// NewRelayer builds a relayer from configuration. The key is parsed
// eagerly so a bad configuration fails at startup, not on first payment.
func NewRelayer(backend ChainBackend, blockchainCfg config.BlockchainConfig, gatewayCfg config.GatewayConfig) (*Relayer, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(blockchainCfg.RelayerPrivateKey), "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer private key: %w", err)
	}
	chainID := big.NewInt(blockchainCfg.ChainID)
	return &Relayer{
		backend:             backend,
		key:                 key,
		address:             crypto.PubkeyToAddress(key.PublicKey),
		chainID:             chainID,
		signer:              types.LatestSignerForChainID(chainID),
		processor:           blockchainCfg.PaymentProcessorAddress,
		escrow:              blockchainCfg.EscrowAddress,
		registry:            blockchainCfg.ServiceRegistryAddress,
		token:               blockchainCfg.TokenAddress,
		optimistic:          gatewayCfg.OptimisticSettlement,
		confirmationTimeout: gatewayCfg.ConfirmationTimeout,
	}, nil
}

// Address returns the relayer's account address in lowercase hex
func (r *Relayer) Address() string {
	return strings.ToLower(r.address.Hex())
}

// OnOptimisticRevert registers a callback invoked when a settlement that
// was already reported as SUBMITTED later reverts. The gateway uses it to
// penalize the payer; the response itself is long gone by then.
func (r *Relayer) OnOptimisticRevert(fn func(payer, txHash string)) {
	r.revertSink = fn
}

// SyncNonce reads the pending account nonce from chain. Called once at
// startup; afterwards nonces are handed out locally.
func (r *Relayer) SyncNonce(ctx context.Context) error {
	nonce, err := r.backend.PendingNonceAt(ctx, r.address)
	if err != nil {
		return fmt.Errorf("sync relayer nonce: %w", err)
	}
	r.mu.Lock()
	r.nextNonce = nonce
	r.freed = nil
	r.synced = true
	r.mu.Unlock()
	return nil
}

func (r *Relayer) allocateNonce() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.synced {
		return 0, fmt.Errorf("relayer nonce not synced")
	}
	if n := len(r.freed); n > 0 {
		nonce := r.freed[n-1]
		r.freed = r.freed[:n-1]
		return nonce, nil
	}
	nonce := r.nextNonce
	r.nextNonce++
	return nonce, nil
}

// releaseNonce returns an allocated nonce after a failed send so the
// account sequence stays gapless.
func (r *Relayer) releaseNonce(nonce uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if nonce == r.nextNonce-1 {
		r.nextNonce--
		return
	}
	r.freed = append(r.freed, nonce)
}

// Settle submits PaymentProcessor.processPayment for a verified
// authorization. The processor pulls tokens via receiveWithAuthorization
// and credits the provider through the escrow, atomically.
func (r *Relayer) Settle(ctx context.Context, idHash [32]byte, auth *entities.PaymentAuthorization) (*entities.SettlementResult, error) {
	value, validAfter, validBefore, nonce, sigR, sigS, err := unpackAuthorization(auth)
	if err != nil {
		return nil, err
	}

	data, err := PaymentProcessorABI.Pack("processPayment",
		idHash, common.HexToAddress(auth.From), value, validAfter, validBefore, nonce, auth.V, sigR, sigS)
	if err != nil {
		return nil, err
	}

	txHash, err := r.submit(ctx, r.processor, data, processorGasLimit)
	if err != nil {
		metrics.Settlements.WithLabelValues(string(entities.SettlementStatusReverted)).Inc()
		return nil, translateSettlementError(err)
	}

	result := &entities.SettlementResult{
		TxHash: txHash,
		Payer:  strings.ToLower(auth.From),
		Amount: value.String(),
	}
	return r.finishSettlement(ctx, result)
}

// SettleDirect is the legacy path: token.receiveWithAuthorization straight
// to the authorization's destination, with no processor and therefore no
// escrow credit. The provider ledger drifts from chain here, so every use
// is logged and counted.
func (r *Relayer) SettleDirect(ctx context.Context, auth *entities.PaymentAuthorization) (*entities.SettlementResult, error) {
	value, validAfter, validBefore, nonce, sigR, sigS, err := unpackAuthorization(auth)
	if err != nil {
		return nil, err
	}

	data, err := TokenABI.Pack("receiveWithAuthorization",
		common.HexToAddress(auth.From), common.HexToAddress(auth.To), value, validAfter, validBefore, nonce, auth.V, sigR, sigS)
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Warn("settling through legacy direct token path, escrow ledger not credited",
		zap.String("from", auth.From), zap.String("to", auth.To), zap.String("value", value.String()))
	metrics.LegacySettlements.Inc()

	txHash, err := r.submit(ctx, r.token, data, directTokenGasLimit)
	if err != nil {
		metrics.Settlements.WithLabelValues(string(entities.SettlementStatusReverted)).Inc()
		return nil, translateSettlementError(err)
	}

	result := &entities.SettlementResult{
		TxHash: txHash,
		Payer:  strings.ToLower(auth.From),
		Amount: value.String(),
		Legacy: true,
	}
	return r.finishSettlement(ctx, result)
}

// finishSettlement applies the confirmation policy to a submitted tx.
func (r *Relayer) finishSettlement(ctx context.Context, result *entities.SettlementResult) (*entities.SettlementResult, error) {
	started := time.Now()

	if r.optimistic {
		result.Status = entities.SettlementStatusSubmitted
		metrics.Settlements.WithLabelValues(string(entities.SettlementStatusSubmitted)).Inc()
		// The request context dies with the response; confirmation runs on
		// its own deadline and reports reverts to the sink.
		go r.confirmInBackground(result.TxHash, result.Payer, started)
		return result, nil
	}

	status := r.awaitReceipt(ctx, result.TxHash)
	result.Status = status
	metrics.Settlements.WithLabelValues(string(status)).Inc()

	switch status {
	case entities.SettlementStatusConfirmed:
		metrics.SettlementDuration.Observe(time.Since(started).Seconds())
		return result, nil
	case entities.SettlementStatusReverted:
		logger.WithContext(ctx).Error("settlement transaction reverted",
			zap.String("tx_hash", result.TxHash), zap.String("payer", result.Payer))
		return result, translateSettlementError(fmt.Errorf("transaction %s reverted", result.TxHash))
	default: // TIMED_OUT: the tx may still mine; reconciliation picks it up
		logger.WithContext(ctx).Warn("settlement confirmation timed out",
			zap.String("tx_hash", result.TxHash), zap.Duration("timeout", r.confirmationTimeout))
		return result, nil
	}
}

func (r *Relayer) confirmInBackground(txHash, payer string, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), r.confirmationTimeout)
	defer cancel()

	switch r.awaitReceipt(ctx, txHash) {
	case entities.SettlementStatusConfirmed:
		metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	case entities.SettlementStatusReverted:
		logger.GetLogger().Error("optimistic settlement reverted after response was sent",
			zap.String("tx_hash", txHash), zap.String("payer", payer))
		metrics.Settlements.WithLabelValues(string(entities.SettlementStatusReverted)).Inc()
		if r.revertSink != nil {
			r.revertSink(payer, txHash)
		}
	default:
		logger.GetLogger().Warn("optimistic settlement unconfirmed within timeout",
			zap.String("tx_hash", txHash))
	}
}

// awaitReceipt polls for a receipt until confirmation or timeout.
func (r *Relayer) awaitReceipt(ctx context.Context, txHash string) entities.SettlementStatus {
	deadline := time.NewTimer(r.confirmationTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.backend.GetTransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return entities.SettlementStatusConfirmed
			}
			return entities.SettlementStatusReverted
		}

		select {
		case <-ctx.Done():
			return entities.SettlementStatusTimedOut
		case <-deadline.C:
			return entities.SettlementStatusTimedOut
		case <-ticker.C:
		}
	}
}

// Withdraw triggers Escrow.withdraw(provider, amount) so a provider gets
// paid without spending gas themselves. Always waits for mining: a claim
// reported out of optimism would show a zero balance that springs back.
func (r *Relayer) Withdraw(ctx context.Context, provider string, amount *big.Int) (string, error) {
	data, err := EscrowABI.Pack("withdraw", common.HexToAddress(provider), amount)
	if err != nil {
		return "", err
	}
	return r.submitAndWait(ctx, r.escrow, data)
}

// RegisterService registers a service in the on-chain registry. Owner-only;
// the relayer key is the registry owner by deployment.
func (r *Relayer) RegisterService(ctx context.Context, idHash [32]byte, provider string, price *big.Int, name, endpoint string) (string, error) {
	data, err := ServiceRegistryABI.Pack("registerService", idHash, common.HexToAddress(provider), price, name, endpoint)
	if err != nil {
		return "", err
	}
	return r.submitAndWait(ctx, r.registry, data)
}

// UpdateServicePrice updates the on-chain price for a service
func (r *Relayer) UpdateServicePrice(ctx context.Context, idHash [32]byte, price *big.Int) (string, error) {
	data, err := ServiceRegistryABI.Pack("updatePrice", idHash, price)
	if err != nil {
		return "", err
	}
	return r.submitAndWait(ctx, r.registry, data)
}

// SetServiceActive flips the on-chain active flag for a service
func (r *Relayer) SetServiceActive(ctx context.Context, idHash [32]byte, active bool) (string, error) {
	data, err := ServiceRegistryABI.Pack("setServiceActive", idHash, active)
	if err != nil {
		return "", err
	}
	return r.submitAndWait(ctx, r.registry, data)
}

func (r *Relayer) submitAndWait(ctx context.Context, to string, data []byte) (string, error) {
	txHash, err := r.submit(ctx, to, data, adminTxGasLimit)
	if err != nil {
		return "", translateSettlementError(err)
	}
	switch r.awaitReceipt(ctx, txHash) {
	case entities.SettlementStatusConfirmed:
		return txHash, nil
	case entities.SettlementStatusReverted:
		return txHash, translateSettlementError(fmt.Errorf("transaction %s reverted", txHash))
	default:
		return txHash, fmt.Errorf("transaction %s not confirmed within %s", txHash, r.confirmationTimeout)
	}
}

// submit signs and broadcasts a legacy transaction with a locally
// allocated nonce. A failed broadcast returns the nonce to the pool.
func (r *Relayer) submit(ctx context.Context, to string, data []byte, gasLimit uint64) (string, error) {
	gasPrice, err := r.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	nonce, err := r.allocateNonce()
	if err != nil {
		return "", err
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(to), big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, r.signer, r.key)
	if err != nil {
		r.releaseNonce(nonce)
		return "", err
	}

	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		r.releaseNonce(nonce)
		return "", err
	}
	return signed.Hash().Hex(), nil
}

func unpackAuthorization(auth *entities.PaymentAuthorization) (value, validAfter, validBefore *big.Int, nonce, sigR, sigS [32]byte, err error) {
	if value, err = parseUint256(auth.Value); err != nil {
		return
	}
	if validAfter, err = parseUint256(auth.ValidAfter); err != nil {
		return
	}
	if validBefore, err = parseUint256(auth.ValidBefore); err != nil {
		return
	}
	if nonce, err = parseBytes32(auth.Nonce); err != nil {
		return
	}
	if sigR, err = parseBytes32(auth.R); err != nil {
		return
	}
	sigS, err = parseBytes32(auth.S)
	return
}
