package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"settlement-service/internal/domain/agent"
	"settlement-service/internal/pkg/lock"
	"settlement-service/internal/pkg/ratelimit"
	"settlement-service/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Locked(ctx context.Context, subject string) (bool, error) {
	args := m.Called(ctx, subject)
	return args.Bool(0), args.Error(1)
}

func (m *MockLimiter) Fail(ctx context.Context, subject string) (int64, error) {
	args := m.Called(ctx, subject)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLimiter) Reset(ctx context.Context, subject string) error {
	args := m.Called(ctx, subject)
	return args.Error(0)
}

func newTestService(limiter AttemptLimiter) (*CredentialService, *memory.CredentialRepository) {
	repo := memory.NewCredentialRepository()
	svc := NewCredentialService(repo, lock.NewLocalLocker(), limiter, zap.NewNop())
	svc.SetHashCost(bcrypt.MinCost)
	return svc, repo
}

func TestRegisterCredential(t *testing.T) {
	svc, repo := newTestService(nil)
	ctx := context.Background()

	cred, err := svc.RegisterCredential(ctx, "AG1", "+628111", "1234")
	require.NoError(t, err)
	assert.True(t, cred.Active)
	assert.NotEqual(t, "1234", cred.PinHash)

	stored, err := repo.FindByAgentID(ctx, "AG1")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PinHash), []byte("1234")))

	_, err = svc.RegisterCredential(ctx, "AG1", "+628999", "5678")
	assert.ErrorIs(t, err, agent.ErrAlreadyRegistered)

	_, err = svc.RegisterCredential(ctx, "AG2", "+628111", "5678")
	assert.ErrorIs(t, err, agent.ErrIdentityTaken)

	_, err = svc.RegisterCredential(ctx, "AG3", "+628333", "12a4")
	assert.ErrorIs(t, err, agent.ErrInvalidPinFormat)
}

func TestVerifyCredential(t *testing.T) {
	svc, repo := newTestService(nil)
	ctx := context.Background()
	now := time.Date(2025, 10, 19, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	_, err := svc.RegisterCredential(ctx, "AG1", "+628111", "1234")
	require.NoError(t, err)

	tests := []struct {
		name     string
		agentID  string
		identity string
		pin      string
		wantErr  error
	}{
		{"correct pin and identity", "AG1", "+628111", "1234", nil},
		{"correct pin wrong identity", "AG1", "+628999", "1234", agent.ErrInvalidPin},
		{"wrong pin correct identity", "AG1", "+628111", "4321", agent.ErrInvalidPin},
		{"unknown agent", "AG9", "+628111", "1234", agent.ErrCredentialNotFound},
		{"malformed pin", "AG1", "+628111", "12", agent.ErrInvalidPinFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.VerifyCredential(ctx, tt.agentID, tt.identity, tt.pin)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	stored, _ := repo.FindByAgentID(ctx, "AG1")
	require.NotNil(t, stored.LastVerifiedAt)
	assert.True(t, stored.LastVerifiedAt.Equal(now))
}

func TestVerifyCredential_InactiveLooksLikeWrongPin(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.RegisterCredential(ctx, "AG1", "+628111", "1234")
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, "AG1"))

	err = svc.VerifyCredential(ctx, "AG1", "+628111", "1234")
	assert.ErrorIs(t, err, agent.ErrInvalidPin)

	require.NoError(t, svc.Activate(ctx, "AG1"))
	assert.NoError(t, svc.VerifyCredential(ctx, "AG1", "+628111", "1234"))

	assert.ErrorIs(t, svc.Deactivate(ctx, "AG9"), agent.ErrCredentialNotFound)
}

func TestRotatePin(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.RegisterCredential(ctx, "AG1", "+628111", "1234")
	require.NoError(t, err)

	err = svc.RotatePin(ctx, "AG1", "+628111", "0000", "5678")
	assert.ErrorIs(t, err, agent.ErrInvalidOldPin)
	assert.NoError(t, svc.VerifyCredential(ctx, "AG1", "+628111", "1234"))

	err = svc.RotatePin(ctx, "AG1", "+628111", "1234", "56")
	assert.ErrorIs(t, err, agent.ErrInvalidPinFormat)

	require.NoError(t, svc.RotatePin(ctx, "AG1", "+628111", "1234", "5678"))
	assert.ErrorIs(t, svc.VerifyCredential(ctx, "AG1", "+628111", "1234"), agent.ErrInvalidPin)
	assert.NoError(t, svc.VerifyCredential(ctx, "AG1", "+628111", "5678"))
}

func TestLookupByIdentity(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.RegisterCredential(ctx, "AG1", "+628111", "1234")
	require.NoError(t, err)

	cred, err := svc.LookupByIdentity(ctx, "+628111")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "AG1", cred.AgentID)

	missing, err := svc.LookupByIdentity(ctx, "+628000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVerifyCredential_LocksAfterRepeatedFailures(t *testing.T) {
	svc, _ := newTestService(ratelimit.NewLocalLimiter(3, 15*time.Minute))
	ctx := context.Background()

	_, err := svc.RegisterCredential(ctx, "AG1", "+628111", "1234")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, svc.VerifyCredential(ctx, "AG1", "+628111", "9999"), agent.ErrInvalidPin)
	}

	err = svc.VerifyCredential(ctx, "AG1", "+628111", "1234")
	assert.ErrorIs(t, err, agent.ErrTooManyAttempts)
}

func TestVerifyCredential_LimiterOutageDoesNotBlock(t *testing.T) {
	limiter := new(MockLimiter)
	limiter.On("Locked", mock.Anything, "AG1").Return(false, errors.New("connection refused"))
	limiter.On("Reset", mock.Anything, "AG1").Return(nil)

	svc, _ := newTestService(limiter)
	ctx := context.Background()

	_, err := svc.RegisterCredential(ctx, "AG1", "+628111", "1234")
	require.NoError(t, err)

	assert.NoError(t, svc.VerifyCredential(ctx, "AG1", "+628111", "1234"))
	limiter.AssertExpectations(t)
}

func TestVerifyCredential_SuccessResetsAttempts(t *testing.T) {
	limiter := new(MockLimiter)
	limiter.On("Locked", mock.Anything, "AG1").Return(false, nil)
	limiter.On("Fail", mock.Anything, "AG1").Return(int64(4), nil).Once()
	limiter.On("Reset", mock.Anything, "AG1").Return(nil).Once()

	svc, _ := newTestService(limiter)
	ctx := context.Background()

	_, err := svc.RegisterCredential(ctx, "AG1", "+628111", "1234")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.VerifyCredential(ctx, "AG1", "+628111", "0000"), agent.ErrInvalidPin)
	assert.NoError(t, svc.VerifyCredential(ctx, "AG1", "+628111", "1234"))
	limiter.AssertExpectations(t)
}
