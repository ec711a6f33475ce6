package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
	"x402-market.backend/pkg/utils"
)

func TestUnitOfWork_CommitSpansRepositories(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	providers := NewProviderRepository(db)
	logs := NewAccessLogRepository(db)
	ctx := context.Background()

	wallet := "0xabcd000000000000000000000000000000000001"
	require.NoError(t, providers.Upsert(ctx, &entities.Provider{WalletAddress: wallet}))

	err := uow.Do(ctx, func(txCtx context.Context) error {
		if err := logs.Create(txCtx, &entities.AccessLog{
			ID:              utils.GenerateUUIDv7(),
			ServiceID:       "svc-1",
			CallerAddress:   "0x01",
			Amount:          "1000000",
			ProviderRevenue: "950000",
			TxHash:          "0xaaa",
			CreatedAt:       time.Now(),
		}); err != nil {
			return err
		}
		return providers.AddEarned(txCtx, wallet, "950000")
	})
	require.NoError(t, err)

	got, err := providers.GetByWallet(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, "950000", got.TotalEarned)

	_, err = logs.GetByTxHash(ctx, "0xaaa")
	require.NoError(t, err)
}

func TestUnitOfWork_RollbackOnError(t *testing.T) {
	db := newTestDB(t)
	uow := NewUnitOfWork(db)
	providers := NewProviderRepository(db)
	logs := NewAccessLogRepository(db)
	ctx := context.Background()

	wallet := "0xabcd000000000000000000000000000000000001"
	require.NoError(t, providers.Upsert(ctx, &entities.Provider{WalletAddress: wallet}))

	boom := errors.New("ledger write failed")
	err := uow.Do(ctx, func(txCtx context.Context) error {
		if err := logs.Create(txCtx, &entities.AccessLog{
			ID:            utils.GenerateUUIDv7(),
			ServiceID:     "svc-1",
			CallerAddress: "0x01",
			Amount:        "1", ProviderRevenue: "1",
			TxHash:    "0xbbb",
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// the log row written inside the transaction must be gone
	_, err = logs.GetByTxHash(ctx, "0xbbb")
	require.ErrorIs(t, err, domainerrors.ErrNotFound)

	got, err := providers.GetByWallet(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, "0", got.TotalEarned)
}
