// internal/service/credential/credential_service.go
package credential

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"settlement-service/internal/domain/agent"
	xerrors "settlement-service/internal/pkg/errors"
	"settlement-service/internal/pkg/lock"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

// AttemptLimiter tracks failed PIN attempts per agent.
type AttemptLimiter interface {
	Locked(ctx context.Context, subject string) (bool, error)
	Fail(ctx context.Context, subject string) (int64, error)
	Reset(ctx context.Context, subject string) error
}

type CredentialService struct {
	repo    agent.CredentialRepository
	locker  lock.Locker
	limiter AttemptLimiter
	logger  *zap.Logger
	now     func() time.Time
	cost    int
}

// NewCredentialService builds the service. limiter may be nil, in which case
// failed attempts are not counted.
func NewCredentialService(repo agent.CredentialRepository, locker lock.Locker, limiter AttemptLimiter, logger *zap.Logger) *CredentialService {
	return &CredentialService{
		repo:    repo,
		locker:  locker,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
		cost:    bcrypt.DefaultCost,
	}
}

func (s *CredentialService) SetClock(now func() time.Time) {
	s.now = now
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *CredentialService) SetHashCost(cost int) {
	s.cost = cost
}

// RegisterCredential binds a PIN and a contact identity to an agent.
func (s *CredentialService) RegisterCredential(ctx context.Context, agentID, boundIdentity, pin string) (*agent.Credential, error) {
	agentID, boundIdentity = strings.TrimSpace(agentID), strings.TrimSpace(boundIdentity)
	if agentID == "" || boundIdentity == "" {
		return nil, fmt.Errorf("%w: agent id and identity are required", xerrors.ErrInvalidInput)
	}
	if !pinPattern.MatchString(pin) {
		return nil, agent.ErrInvalidPinFormat
	}

	release, err := s.locker.Acquire(ctx, lock.Key("credential", agentID))
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.repo.FindByAgentID(ctx, agentID); err == nil {
		return nil, agent.ErrAlreadyRegistered
	} else if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing credential: %w", err)
	}

	if _, err := s.repo.FindByIdentity(ctx, boundIdentity); err == nil {
		return nil, agent.ErrIdentityTaken
	} else if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to check identity: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash pin: %w", err)
	}

	now := s.now()
	cred := &agent.Credential{
		AgentID:       agentID,
		BoundIdentity: boundIdentity,
		PinHash:       string(hash),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, cred); err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEntry) {
			return nil, agent.ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	s.logger.Info("agent credential registered", zap.String("agent_id", agentID))
	return cred, nil
}

// VerifyCredential checks the PIN of an agent. The identity must match the one
// bound at registration and the credential must be active; any mismatch is
// reported as ErrInvalidPin.
func (s *CredentialService) VerifyCredential(ctx context.Context, agentID, boundIdentity, pin string) error {
	release, err := s.locker.Acquire(ctx, lock.Key("credential", agentID))
	if err != nil {
		return err
	}
	defer release()

	_, err = s.verify(ctx, agentID, boundIdentity, pin)
	return err
}

// RotatePin replaces the PIN after re-verifying the old one. The old PIN stops
// working as soon as this returns.
func (s *CredentialService) RotatePin(ctx context.Context, agentID, boundIdentity, oldPin, newPin string) error {
	if !pinPattern.MatchString(newPin) {
		return agent.ErrInvalidPinFormat
	}

	release, err := s.locker.Acquire(ctx, lock.Key("credential", agentID))
	if err != nil {
		return err
	}
	defer release()

	cred, err := s.verify(ctx, agentID, boundIdentity, oldPin)
	if errors.Is(err, agent.ErrInvalidPin) || errors.Is(err, agent.ErrInvalidPinFormat) {
		return agent.ErrInvalidOldPin
	}
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPin), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}

	cred.PinHash = string(hash)
	cred.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, cred); err != nil {
		return fmt.Errorf("failed to update pin: %w", err)
	}

	s.logger.Info("agent pin rotated", zap.String("agent_id", agentID))
	return nil
}

// LookupByIdentity returns the credential bound to the identity, or nil.
func (s *CredentialService) LookupByIdentity(ctx context.Context, boundIdentity string) (*agent.Credential, error) {
	cred, err := s.repo.FindByIdentity(ctx, strings.TrimSpace(boundIdentity))
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}
	return cred, nil
}

func (s *CredentialService) Deactivate(ctx context.Context, agentID string) error {
	return s.setActive(ctx, agentID, false)
}

func (s *CredentialService) Activate(ctx context.Context, agentID string) error {
	return s.setActive(ctx, agentID, true)
}

func (s *CredentialService) setActive(ctx context.Context, agentID string, active bool) error {
	release, err := s.locker.Acquire(ctx, lock.Key("credential", agentID))
	if err != nil {
		return err
	}
	defer release()

	cred, err := s.repo.FindByAgentID(ctx, agentID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return agent.ErrCredentialNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get credential: %w", err)
	}
	if cred.Active == active {
		return nil
	}

	cred.Active = active
	cred.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, cred); err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	s.logger.Info("agent credential status changed",
		zap.String("agent_id", agentID),
		zap.Bool("active", active),
	)
	return nil
}

// verify must be called with the credential lock held.
func (s *CredentialService) verify(ctx context.Context, agentID, boundIdentity, pin string) (*agent.Credential, error) {
	if !pinPattern.MatchString(pin) {
		return nil, agent.ErrInvalidPinFormat
	}

	if s.limiter != nil {
		locked, err := s.limiter.Locked(ctx, agentID)
		if err != nil {
			s.logger.Warn("pin attempt limiter unavailable", zap.String("agent_id", agentID), zap.Error(err))
		} else if locked {
			return nil, agent.ErrTooManyAttempts
		}
	}

	cred, err := s.repo.FindByAgentID(ctx, agentID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, agent.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	pinOK := bcrypt.CompareHashAndPassword([]byte(cred.PinHash), []byte(pin)) == nil
	if !pinOK || cred.BoundIdentity != strings.TrimSpace(boundIdentity) || !cred.Active {
		s.recordFailure(ctx, agentID)
		return nil, agent.ErrInvalidPin
	}

	now := s.now()
	cred.LastVerifiedAt = &now
	cred.UpdatedAt = now
	if err := s.repo.Update(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, agentID); err != nil {
			s.logger.Warn("failed to reset pin attempts", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	return cred, nil
}

func (s *CredentialService) recordFailure(ctx context.Context, agentID string) {
	if s.limiter == nil {
		s.logger.Warn("agent pin verification failed", zap.String("agent_id", agentID))
		return
	}

	remaining, err := s.limiter.Fail(ctx, agentID)
	if err != nil {
		s.logger.Warn("failed to record pin attempt", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	s.logger.Warn("agent pin verification failed",
		zap.String("agent_id", agentID),
		zap.Int64("attempts_remaining", remaining),
	)
}
