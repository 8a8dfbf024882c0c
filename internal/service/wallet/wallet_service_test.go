package wallet

import (
	"context"
	"sync"
	"testing"

	"settlement-service/internal/domain/wallet"
	"settlement-service/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService() (*WalletService, *memory.WalletRepository) {
	repo := memory.NewWalletRepository()
	return NewWalletService(repo, zap.NewNop()), repo
}

func TestGetBalance_UnknownAccountIsZero(t *testing.T) {
	svc, _ := newTestService()

	balance, err := svc.GetBalance(context.Background(), "U-unknown")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestCredit_ProvisionsAccountAndRecordsEntry(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	entry, err := svc.Credit(ctx, "U1", 50000, "topup", "T-251019-P9Q2")
	require.NoError(t, err)
	assert.Equal(t, wallet.DirectionCredit, entry.Direction)
	assert.Equal(t, int64(50000), entry.ResultingBalance)
	require.NotNil(t, entry.LinkedRequestID)
	assert.Equal(t, "T-251019-P9Q2", *entry.LinkedRequestID)

	balance, err := svc.GetBalance(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
}

func TestCredit_OncePerLinkedRequest(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Credit(ctx, "U1", 20000, "topup", "T-251019-AB23")
	require.NoError(t, err)

	second, err := svc.Credit(ctx, "U1", 20000, "topup", "T-251019-AB23")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, _ := svc.GetBalance(ctx, "U1")
	assert.Equal(t, int64(20000), balance)

	history, err := svc.History(ctx, "U1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCredit_ConcurrentSameRequestCreditsOnce(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, "U1", 1000, "topup", "T-251019-CC44")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, _ := svc.GetBalance(ctx, "U1")
	assert.Equal(t, int64(1000), balance)
}

func TestCredit_RejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "U1", 0, "topup", "")
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)

	_, err = svc.Credit(ctx, "U1", -5, "topup", "")
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)

	_, err = svc.Credit(ctx, "", 10, "topup", "")
	assert.ErrorIs(t, err, wallet.ErrInvalidAccount)

	balance, _ := svc.GetBalance(ctx, "U1")
	assert.Equal(t, int64(0), balance)
}

func TestDebit_InsufficientFundsLeavesNoTrace(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "U1", 100, "seed", "")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "U1", 101, "purchase")
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	balance, _ := svc.GetBalance(ctx, "U1")
	assert.Equal(t, int64(100), balance)

	history, _ := svc.History(ctx, "U1", 10)
	assert.Len(t, history, 1)

	entry, err := svc.Debit(ctx, "U1", 100, "purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.ResultingBalance)
}

func TestDebit_UnknownAccountFails(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Debit(context.Background(), "ghost", 1, "purchase")
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	_, err = repo.FindAccount(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "U1", 1000, "seed", "")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, "U1", 30, "purchase"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	balance, _ := svc.GetBalance(ctx, "U1")
	assert.Equal(t, 33, succeeded)
	assert.Equal(t, int64(1000-33*30), balance)
	assert.GreaterOrEqual(t, balance, int64(0))
}

func TestTransfer_BothOrNeither(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, "U1", 500, "seed", "")
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, &wallet.TransferInput{FromAccountID: "U1", ToAccountID: "U2", Amount: 600, Reason: "gift"})
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	b1, _ := svc.GetBalance(ctx, "U1")
	b2, _ := svc.GetBalance(ctx, "U2")
	assert.Equal(t, int64(500), b1)
	assert.Equal(t, int64(0), b2)

	result, err := svc.Transfer(ctx, &wallet.TransferInput{FromAccountID: "U1", ToAccountID: "U2", Amount: 200, Reason: "gift"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), result.Debit.ResultingBalance)
	assert.Equal(t, int64(200), result.Credit.ResultingBalance)

	b1, _ = svc.GetBalance(ctx, "U1")
	b2, _ = svc.GetBalance(ctx, "U2")
	assert.Equal(t, int64(300), b1)
	assert.Equal(t, int64(200), b2)
}

func TestTransfer_SameAccountRejected(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Transfer(context.Background(), &wallet.TransferInput{FromAccountID: "U1", ToAccountID: "U1", Amount: 1, Reason: "x"})
	assert.ErrorIs(t, err, wallet.ErrSameAccount)
}

func TestHistory_ReplayReproducesBalance(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	ops := []struct {
		credit bool
		amount int64
	}{
		{true, 1000}, {false, 250}, {true, 40}, {false, 790}, {false, 1}, {true, 77}, {false, 77},
	}
	for _, op := range ops {
		if op.credit {
			_, err := svc.Credit(ctx, "U1", op.amount, "op", "")
			require.NoError(t, err)
		} else {
			_, _ = svc.Debit(ctx, "U1", op.amount, "op")
		}
	}
	_, err := svc.Transfer(ctx, &wallet.TransferInput{FromAccountID: "U2", ToAccountID: "U1", Amount: 5, Reason: "op"})
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	history, err := svc.History(ctx, "U1", maxHistoryLimit)
	require.NoError(t, err)

	var running int64
	for i := len(history) - 1; i >= 0; i-- {
		running += history[i].Signed()
		assert.Equal(t, running, history[i].ResultingBalance)
	}

	balance, _ := svc.GetBalance(ctx, "U1")
	assert.Equal(t, balance, running)
	assert.Equal(t, history[0].ResultingBalance, balance)
}
