package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain/agent"
	"settlement-service/internal/domain/topup"
	"settlement-service/internal/domain/wallet"
	"settlement-service/internal/pkg/lock"
	"settlement-service/internal/pkg/refcode"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/service/agenttx"
	"settlement-service/internal/service/credential"
	topupsvc "settlement-service/internal/service/topup"
	walletsvc "settlement-service/internal/service/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// flakyLedger fails the next n credits before delegating.
type flakyLedger struct {
	Ledger
	mu       sync.Mutex
	failures int
}

func (l *flakyLedger) Credit(ctx context.Context, accountID string, amount int64, reason, linkedRequestID string) (*wallet.LedgerEntry, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	l.mu.Unlock()
	return l.Ledger.Credit(ctx, accountID, amount, reason, linkedRequestID)
}

// flakyTransactions fails the next n completions before delegating.
type flakyTransactions struct {
	Transactions
	mu       sync.Mutex
	failures int
}

func (t *flakyTransactions) Complete(ctx context.Context, id string) (*agent.Transaction, error) {
	t.mu.Lock()
	if t.failures > 0 {
		t.failures--
		t.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	t.mu.Unlock()
	return t.Transactions.Complete(ctx, id)
}

// keyRecorder remembers every key acquired through it.
type keyRecorder struct {
	lock.Locker
	mu   sync.Mutex
	keys []string
}

func (r *keyRecorder) Acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return r.Locker.Acquire(ctx, key)
}

type fixture struct {
	settlement *SettlementService
	topups     *topupsvc.TopupService
	agentTxs   *agenttx.AgentTxService
	ledger     *walletsvc.WalletService
	flakyTxs   *flakyTransactions
	flakyCash  *flakyLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	locker := lock.NewLocalLocker()
	requestRepo := memory.NewTopupRepository()
	f := &fixture{}

	f.ledger = walletsvc.NewWalletService(memory.NewWalletRepository(), zap.NewNop())

	credentials := credential.NewCredentialService(memory.NewCredentialRepository(), locker, nil, zap.NewNop())
	credentials.SetHashCost(bcrypt.MinCost)
	_, err := credentials.RegisterCredential(context.Background(), "AG1", "+628111", "1234")
	require.NoError(t, err)

	f.agentTxs = agenttx.NewAgentTxService(memory.NewAgentTransactionRepository(), requestRepo, credentials, locker, time.UTC, zap.NewNop())
	f.topups = topupsvc.NewTopupService(requestRepo, f.ledger, f.agentTxs, nil, locker,
		topupsvc.Config{MinAmount: 10_000, MaxAmount: 10_000_000}, zap.NewNop())

	f.flakyTxs = &flakyTransactions{Transactions: f.agentTxs}
	f.flakyCash = &flakyLedger{Ledger: f.ledger}
	f.settlement = NewSettlementService(f.flakyTxs, f.topups, f.flakyCash, locker, zap.NewNop())
	return f
}

func (f *fixture) cashRequest(t *testing.T, accountID string, amount int64) (*topup.Request, string) {
	t.Helper()
	req, err := f.topups.CreateRequest(context.Background(), &topup.CreateRequestInput{
		AccountID:   accountID,
		Amount:      amount,
		PaymentPath: topup.PaymentPathAgentCash,
		AgentID:     "AG1",
	})
	require.NoError(t, err)
	require.NotNil(t, req.LinkedAgentTransactionID)
	return req, *req.LinkedAgentTransactionID
}

func (f *fixture) assertSettled(t *testing.T, requestID, txID, accountID string, balance int64) {
	t.Helper()
	ctx := context.Background()

	req, err := f.topups.GetRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, topup.StatusVerified, req.Status)

	tx, err := f.agentTxs.Get(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, agent.TxStatusCompleted, tx.Status)

	got, err := f.ledger.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, balance, got)

	history, err := f.ledger.History(ctx, accountID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConfirmAndSettle_CashTopup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, txID := f.cashRequest(t, "U1", 20_000)

	result, err := f.settlement.ConfirmAndSettle(ctx, txID, "+628111", "1234")
	require.NoError(t, err)
	assert.False(t, result.Pending)
	assert.False(t, result.AlreadySettled)
	require.NotNil(t, result.Entry)
	assert.Equal(t, req.ID, *result.Entry.LinkedRequestID)
	require.NotNil(t, result.Request.VerifiedBy)
	assert.Equal(t, "agent:AG1", *result.Request.VerifiedBy)

	f.assertSettled(t, req.ID, txID, "U1", 20_000)
}

func TestConfirmAndSettle_WrongPinLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, txID := f.cashRequest(t, "U1", 20_000)

	for i := 0; i < 3; i++ {
		_, err := f.settlement.ConfirmAndSettle(ctx, txID, "+628111", "0000")
		assert.ErrorIs(t, err, agent.ErrInvalidPin)
	}

	tx, err := f.agentTxs.Get(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, agent.TxStatusPending, tx.Status)

	got, err := f.topups.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, topup.StatusPending, got.Status)

	balance, _ := f.ledger.GetBalance(ctx, "U1")
	assert.Zero(t, balance)
}

func TestSettle_Twice_CreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, txID := f.cashRequest(t, "U1", 20_000)
	_, err := f.agentTxs.Confirm(ctx, txID, "+628111", "1234")
	require.NoError(t, err)

	_, err = f.settlement.Settle(ctx, txID)
	require.NoError(t, err)

	again, err := f.settlement.Settle(ctx, txID)
	require.NoError(t, err)
	assert.True(t, again.AlreadySettled)

	f.assertSettled(t, req.ID, txID, "U1", 20_000)
}

func TestSettle_ConcurrentCallsCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, txID := f.cashRequest(t, "U1", 20_000)
	_, err := f.agentTxs.Confirm(ctx, txID, "+628111", "1234")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.settlement.Settle(ctx, txID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f.assertSettled(t, req.ID, txID, "U1", 20_000)
}

func TestSettle_ResumesAfterCreditFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, txID := f.cashRequest(t, "U1", 20_000)
	f.flakyCash.failures = 1

	result, err := f.settlement.ConfirmAndSettle(ctx, txID, "+628111", "1234")
	require.NoError(t, err)
	assert.True(t, result.Pending)

	// verified but not yet credited
	got, err := f.topups.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, topup.StatusVerified, got.Status)
	balance, _ := f.ledger.GetBalance(ctx, "U1")
	assert.Zero(t, balance)

	settled, err := f.settlement.ResumeConfirmed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	f.assertSettled(t, req.ID, txID, "U1", 20_000)
}

func TestSettle_ResumesAfterCompleteFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, txID := f.cashRequest(t, "U1", 20_000)
	_, err := f.agentTxs.Confirm(ctx, txID, "+628111", "1234")
	require.NoError(t, err)

	f.flakyTxs.failures = 1
	_, err = f.settlement.Settle(ctx, txID)
	require.Error(t, err)

	// credited but the transaction is still confirmed
	balance, _ := f.ledger.GetBalance(ctx, "U1")
	assert.Equal(t, int64(20_000), balance)

	_, err = f.settlement.Settle(ctx, txID)
	require.NoError(t, err)

	f.assertSettled(t, req.ID, txID, "U1", 20_000)
}

func TestSettle_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, txID := f.cashRequest(t, "U1", 20_000)
	_, err := f.settlement.Settle(ctx, txID)
	assert.ErrorIs(t, err, agent.ErrWrongState)

	collection, err := f.agentTxs.Create(ctx, &agent.CreateTransactionInput{AccountID: "U2", AgentID: "AG1", Amount: 5_000, Kind: agent.KindCollection})
	require.NoError(t, err)
	_, err = f.agentTxs.Confirm(ctx, collection.ID, "+628111", "1234")
	require.NoError(t, err)
	_, err = f.settlement.Settle(ctx, collection.ID)
	assert.ErrorIs(t, err, agent.ErrNoLinkedRequest)
}

func TestSettle_StaffCannotRejectConfirmedCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, txID := f.cashRequest(t, "U1", 20_000)
	_, err := f.agentTxs.Confirm(ctx, txID, "+628111", "1234")
	require.NoError(t, err)

	_, err = f.topups.Verify(ctx, req.ID, "staff-7", false, "agent reported counterfeit notes")
	assert.ErrorIs(t, err, topup.ErrCashConfirmed)

	result, err := f.settlement.Settle(ctx, txID)
	require.NoError(t, err)
	assert.False(t, result.AlreadySettled)
	f.assertSettled(t, req.ID, txID, "U1", 20_000)
}

func TestResumeConfirmed_SkipsUnlinkedCollections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, account := range []string{"U2", "U3"} {
		collection, err := f.agentTxs.Create(ctx, &agent.CreateTransactionInput{AccountID: account, AgentID: "AG1", Amount: 5_000, Kind: agent.KindCollection})
		require.NoError(t, err)
		_, err = f.agentTxs.Confirm(ctx, collection.ID, "+628111", "1234")
		require.NoError(t, err)
	}

	req, txID := f.cashRequest(t, "U1", 20_000)
	_, err := f.agentTxs.Confirm(ctx, txID, "+628111", "1234")
	require.NoError(t, err)

	resumed, err := f.settlement.ResumeConfirmed(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	f.assertSettled(t, req.ID, txID, "U1", 20_000)
}

func TestSettle_LocksOnNormalizedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, txID := f.cashRequest(t, "U1", 20_000)
	_, err := f.agentTxs.Confirm(ctx, txID, "+628111", "1234")
	require.NoError(t, err)

	recorder := &keyRecorder{Locker: lock.NewLocalLocker()}
	svc := NewSettlementService(f.agentTxs, f.topups, f.ledger, recorder, zap.NewNop())

	_, err = svc.Settle(ctx, " "+strings.ToLower(txID))
	require.NoError(t, err)
	require.NotEmpty(t, recorder.keys)
	assert.Equal(t, lock.Key("settle", txID), recorder.keys[0])
	f.assertSettled(t, req.ID, txID, "U1", 20_000)

	_, err = svc.Settle(ctx, "not-a-reference")
	assert.ErrorIs(t, err, refcode.ErrInvalidReference)
}
