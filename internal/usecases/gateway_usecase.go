package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"x402-market.backend/internal/config"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/internal/domain/repositories"
	"x402-market.backend/pkg/logger"
	"x402-market.backend/pkg/metrics"
	"x402-market.backend/pkg/redis"
	"x402-market.backend/pkg/utils"
)

const (
	inflightKeyPrefix = "payment:inflight:"
	denyListKeyPrefix = "payment:denylist:"
	denyListTTL       = time.Hour
)

// Settler abstracts the relayer's settlement surface for testing.
type Settler interface {
	Settle(ctx context.Context, idHash [32]byte, auth *entities.PaymentAuthorization) (*entities.SettlementResult, error)
	SettleDirect(ctx context.Context, auth *entities.PaymentAuthorization) (*entities.SettlementResult, error)
}

// PendingSettlement is a submitted-but-unconfirmed settlement handed to the
// background reconciler.
type PendingSettlement struct {
	TxHash      string
	ServiceID   string
	Payer       string
	Amount      string
	SubmittedAt time.Time
}

// SettlementQueue receives settlements whose confirmation outlives the
// request that produced them.
type SettlementQueue interface {
	Enqueue(p PendingSettlement)
}

// GatewayResult is the reply envelope for a settled gateway call.
type GatewayResult struct {
	TxHash   string                     `json:"txHash"`
	Status   entities.SettlementStatus  `json:"status"`
	Payment  *entities.SettlementResult `json:"payment,omitempty"`
	Content  json.RawMessage            `json:"content,omitempty"`
	Response json.RawMessage            `json:"response,omitempty"`
	// UpstreamError is set when settlement succeeded but the upstream fetch
	// did not. The txHash is the caller's evidence of payment.
	UpstreamError string `json:"error,omitempty"`
}

// GatewayUsecase composes codec, verifier, relayer and upstream proxy into
// the protected-path pipeline. It never touches chain state directly.
type GatewayUsecase struct {
	serviceRepo  repositories.ServiceRepository
	providerRepo repositories.ProviderRepository
	accessRepo   repositories.AccessLogRepository
	uow          repositories.UnitOfWork
	verifier     *SignatureVerifier
	settler      Settler
	requirements *RequirementsBuilder
	queue        SettlementQueue
	httpClient   *http.Client
	cfg          config.GatewayConfig
}

func NewGatewayUsecase(
	serviceRepo repositories.ServiceRepository,
	providerRepo repositories.ProviderRepository,
	accessRepo repositories.AccessLogRepository,
	uow repositories.UnitOfWork,
	verifier *SignatureVerifier,
	settler Settler,
	requirements *RequirementsBuilder,
	queue SettlementQueue,
	cfg config.GatewayConfig,
) *GatewayUsecase {
	return &GatewayUsecase{
		serviceRepo:  serviceRepo,
		providerRepo: providerRepo,
		accessRepo:   accessRepo,
		uow:          uow,
		verifier:     verifier,
		settler:      settler,
		requirements: requirements,
		queue:        queue,
		httpClient:   &http.Client{Timeout: cfg.UpstreamTimeout},
		cfg:          cfg,
	}
}

// Challenge returns the 402 body for a service, or an error when the
// service cannot be paid for at all.
func (u *GatewayUsecase) Challenge(ctx context.Context, serviceID string) (*entities.PaymentRequired, error) {
	service, err := u.loadPayableService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	metrics.ChallengesIssued.WithLabelValues(service.ID).Inc()
	return u.requirements.Challenge(service), nil
}

// Access runs the full protected-path pipeline for one request: decode the
// payment header, verify, settle, record, then fulfill the service call.
// A nil header yields the 402 challenge through the returned error.
func (u *GatewayUsecase) Access(ctx context.Context, serviceID, method, paymentHeader string, body []byte) (*GatewayResult, *entities.PaymentRequired, error) {
	service, err := u.loadPayableService(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}

	if strings.TrimSpace(paymentHeader) == "" {
		metrics.ChallengesIssued.WithLabelValues(service.ID).Inc()
		return nil, u.requirements.Challenge(service), nil
	}

	auth, accepted, err := DecodePaymentHeader(paymentHeader)
	if err != nil {
		u.countVerificationFailure(err)
		return nil, nil, err
	}
	if accepted != nil && !entities.RequirementsEqual(u.requirements.Build(service), accepted) {
		err := domainerrors.Payment(http.StatusBadRequest, domainerrors.KindBadRequirementsEcho,
			"echoed requirements do not match the issued challenge")
		u.countVerificationFailure(err)
		return nil, nil, err
	}

	result, err := u.settleForService(ctx, service, auth)
	if err != nil {
		return nil, nil, err
	}

	return u.fulfill(ctx, service, method, body, result), nil, nil
}

// SettleForService verifies and settles an already-decoded authorization
// against a service. Shared by the gateway path, the agent execute path and
// the verify-payment delegation.
func (u *GatewayUsecase) SettleForService(ctx context.Context, serviceID string, auth *entities.PaymentAuthorization) (*entities.SettlementResult, *entities.Service, error) {
	service, err := u.loadPayableService(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}
	result, err := u.settleForService(ctx, service, auth)
	if err != nil {
		return nil, nil, err
	}
	return result, service, nil
}

// ExecuteForAgent is the single-shot settle+invoke path for agent clients:
// verify, settle and fulfill in one call.
func (u *GatewayUsecase) ExecuteForAgent(ctx context.Context, serviceID string, auth *entities.PaymentAuthorization, requestBody []byte) (*GatewayResult, *entities.Service, error) {
	service, err := u.loadPayableService(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}
	settlement, err := u.settleForService(ctx, service, auth)
	if err != nil {
		return nil, nil, err
	}
	return u.fulfill(ctx, service, http.MethodPost, requestBody, settlement), service, nil
}

// FeeSplit splits an amount into the platform fee and the provider share
// using the configured basis points.
func (u *GatewayUsecase) FeeSplit(amount string) (platformFee, providerRevenue string, err error) {
	value, err := parseUint256(amount)
	if err != nil {
		return "", "", err
	}
	fee := new(big.Int).Div(new(big.Int).Mul(value, big.NewInt(u.cfg.FeeBasisPoints())), big.NewInt(10000))
	share := new(big.Int).Sub(value, fee)
	return fee.String(), share.String(), nil
}

// SettleUnbound settles an authorization with no service binding through
// the legacy direct-token path. The escrow is bypassed; the off-chain
// ledger cannot be credited.
func (u *GatewayUsecase) SettleUnbound(ctx context.Context, auth *entities.PaymentAuthorization) (*entities.SettlementResult, error) {
	value, ok := auth.ValueBig()
	if !ok {
		return nil, domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "value is not a valid integer")
	}
	if err := u.verifier.Verify(ctx, auth, value); err != nil {
		u.countVerificationFailure(err)
		return nil, err
	}

	if err := u.rejectDeniedPayer(ctx, auth.From); err != nil {
		return nil, err
	}
	release, err := u.acquireInflightSlot(ctx, auth.From)
	if err != nil {
		return nil, err
	}
	defer release()

	return u.settler.SettleDirect(ctx, auth)
}

func (u *GatewayUsecase) settleForService(ctx context.Context, service *entities.Service, auth *entities.PaymentAuthorization) (*entities.SettlementResult, error) {
	price, err := parseUint256(service.PriceBaseUnits)
	if err != nil {
		return nil, domainerrors.InternalError(fmt.Errorf("corrupt price for service %s: %w", service.ID, err))
	}

	if err := u.verifier.Verify(ctx, auth, price); err != nil {
		u.countVerificationFailure(err)
		return nil, err
	}

	if err := u.rejectDeniedPayer(ctx, auth.From); err != nil {
		return nil, err
	}
	release, err := u.acquireInflightSlot(ctx, auth.From)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := u.settler.Settle(ctx, service.IDHash(), auth)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case entities.SettlementStatusConfirmed, entities.SettlementStatusSubmitted:
		if recordErr := u.RecordSettlement(ctx, service.ID, service.ProviderAddress, result.Payer, result.Amount, result.TxHash); recordErr != nil {
			// Funds moved on-chain; a mirror failure must not fail the call.
			logger.WithContext(ctx).Error("failed to record settled payment",
				zap.String("tx_hash", result.TxHash), zap.Error(recordErr))
		}
	case entities.SettlementStatusTimedOut:
		if u.queue != nil {
			u.queue.Enqueue(PendingSettlement{
				TxHash:      result.TxHash,
				ServiceID:   service.ID,
				Payer:       result.Payer,
				Amount:      result.Amount,
				SubmittedAt: time.Now(),
			})
		}
	}
	return result, nil
}

// RecordSettlement appends the access log row and credits the provider
// mirror, atomically. Called inline on confirmation and by the reconciler
// for late-mining transactions.
func (u *GatewayUsecase) RecordSettlement(ctx context.Context, serviceID, providerAddress, payer, amount, txHash string) error {
	share, err := u.providerShare(amount)
	if err != nil {
		return err
	}
	return u.uow.Do(ctx, func(txCtx context.Context) error {
		if err := u.providerRepo.Upsert(txCtx, &entities.Provider{WalletAddress: providerAddress}); err != nil {
			return err
		}
		if err := u.accessRepo.Create(txCtx, &entities.AccessLog{
			ID:              utils.GenerateUUIDv7(),
			ServiceID:       serviceID,
			CallerAddress:   payer,
			Amount:          amount,
			ProviderRevenue: share,
			TxHash:          txHash,
			CreatedAt:       time.Now(),
		}); err != nil {
			return err
		}
		return u.providerRepo.AddEarned(txCtx, providerAddress, share)
	})
}

// ServiceProviderAddress resolves the provider for a service id. Used by
// the reconciler, which only carries the settlement tuple.
func (u *GatewayUsecase) ServiceProviderAddress(ctx context.Context, serviceID string) (string, error) {
	service, err := u.serviceRepo.GetByID(ctx, serviceID)
	if err != nil {
		return "", err
	}
	return service.ProviderAddress, nil
}

// HasAccessLog reports whether a settlement tx is already mirrored.
func (u *GatewayUsecase) HasAccessLog(ctx context.Context, txHash string) (bool, error) {
	_, err := u.accessRepo.GetByTxHash(ctx, txHash)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domainerrors.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// fulfill serves the paid call: HOSTED content inline, PROXY forwarded
// upstream. Settlement already happened; upstream failures are reported
// alongside the tx hash, never retried.
func (u *GatewayUsecase) fulfill(ctx context.Context, service *entities.Service, method string, body []byte, settlement *entities.SettlementResult) *GatewayResult {
	result := &GatewayResult{
		TxHash:  settlement.TxHash,
		Status:  settlement.Status,
		Payment: settlement,
	}

	switch service.Kind {
	case entities.ServiceKindHosted:
		content := service.Content.String
		if json.Valid([]byte(content)) {
			result.Content = json.RawMessage(content)
		} else {
			encoded, _ := json.Marshal(content)
			result.Content = encoded
		}
	case entities.ServiceKindProxy:
		upstream, err := u.callUpstream(ctx, service, method, body, settlement)
		if err != nil {
			metrics.UpstreamFailures.WithLabelValues(service.ID).Inc()
			logger.WithContext(ctx).Error("upstream call failed after settlement",
				zap.String("service_id", service.ID), zap.String("tx_hash", settlement.TxHash), zap.Error(err))
			result.UpstreamError = domainerrors.KindUpstreamFailed + ": " + err.Error()
		} else {
			result.Response = upstream
		}
	}
	return result
}

func (u *GatewayUsecase) callUpstream(ctx context.Context, service *entities.Service, method string, body []byte, settlement *entities.SettlementResult) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.UpstreamTimeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, service.EndpointURL.String, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-402-Payer", settlement.Payer)
	req.Header.Set("X-402-TxHash", settlement.TxHash)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	if !json.Valid(payload) {
		encoded, _ := json.Marshal(string(payload))
		return encoded, nil
	}
	return payload, nil
}

// MarkMisbehavingPayer deny-lists a payer whose optimistic settlement
// reverted after the response was already served. The relayer calls this
// from its background confirmation task.
func (u *GatewayUsecase) MarkMisbehavingPayer(payer, txHash string) {
	ctx := context.Background()
	logger.GetLogger().Warn("deny-listing payer after optimistic revert",
		zap.String("payer", strings.ToLower(payer)), zap.String("tx_hash", txHash))
	if redis.GetClient() == nil {
		return
	}
	if err := redis.Set(ctx, denyListKeyPrefix+strings.ToLower(payer), txHash, denyListTTL); err != nil {
		logger.GetLogger().Error("failed to record deny-listed payer", zap.Error(err))
	}
}

// rejectDeniedPayer refuses settlement for deny-listed payers. Only
// optimistic mode pays out before confirmation, so only it needs the list.
func (u *GatewayUsecase) rejectDeniedPayer(ctx context.Context, payer string) error {
	if !u.cfg.OptimisticSettlement || redis.GetClient() == nil {
		return nil
	}
	if _, err := redis.Get(ctx, denyListKeyPrefix+strings.ToLower(payer)); err == nil {
		return domainerrors.NewAppError(http.StatusTooManyRequests,
			"payer is temporarily blocked after a reverted settlement", domainerrors.ErrForbidden)
	}
	return nil
}

// acquireInflightSlot bounds concurrent settlements per payer. Optimistic
// mode makes this load-bearing against gas griefing; in confirmed mode it
// is a cheap upper bound.
func (u *GatewayUsecase) acquireInflightSlot(ctx context.Context, payer string) (func(), error) {
	if u.cfg.MaxInFlightPerPayer <= 0 || redis.GetClient() == nil {
		return func() {}, nil
	}
	key := inflightKeyPrefix + strings.ToLower(payer)
	count, err := redis.Incr(ctx, key)
	if err != nil {
		logger.WithContext(ctx).Warn("inflight counter unavailable", zap.Error(err))
		return func() {}, nil
	}
	_ = redis.Expire(ctx, key, 2*u.cfg.ConfirmationTimeout)
	if count > int64(u.cfg.MaxInFlightPerPayer) {
		_, _ = redis.Decr(ctx, key)
		return nil, domainerrors.NewAppError(http.StatusTooManyRequests,
			"too many in-flight settlements for this payer", domainerrors.ErrForbidden)
	}
	release := func() {
		_, _ = redis.Decr(context.WithoutCancel(ctx), key)
	}
	return release, nil
}

func (u *GatewayUsecase) loadPayableService(ctx context.Context, serviceID string) (*entities.Service, error) {
	service, err := u.serviceRepo.GetByID(ctx, serviceID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.Payment(http.StatusNotFound, domainerrors.KindServiceInactive, "service not found")
		}
		return nil, err
	}
	if service.Kind == entities.ServiceKindNative {
		return nil, domainerrors.BadRequest("service is settled at its own endpoint, not through this gateway")
	}
	if !service.IsActive {
		return nil, domainerrors.Payment(http.StatusGone, domainerrors.KindServiceInactive, "service is not active")
	}
	return service, nil
}

// providerShare computes amount x (1 - fee) in integer basis-point math,
// mirroring the escrow's split: fee rounds down, the remainder goes to the
// provider.
func (u *GatewayUsecase) providerShare(amount string) (string, error) {
	_, share, err := u.FeeSplit(amount)
	return share, err
}

func (u *GatewayUsecase) countVerificationFailure(err error) {
	if kind := domainerrors.Kind(err); kind != "" {
		metrics.VerificationFailures.WithLabelValues(kind).Inc()
	}
}

