// internal/service/scheduler/scheduler_service.go
package scheduler

import (
	"context"
	"time"

	"settlement-service/internal/domain/topup"

	"go.uber.org/zap"
)

type Requests interface {
	ListStaleTransfers(ctx context.Context, cutoff time.Time, limit int) ([]topup.Request, error)
	Expire(ctx context.Context, id string, cutoff time.Time) (bool, error)
	SendReminder(ctx context.Context, id string, cutoff time.Time) (bool, error)
}

type Settler interface {
	ResumeConfirmed(ctx context.Context, limit int) (int, error)
}

type Config struct {
	Interval      time.Duration
	ExpiryAfter   time.Duration
	ReminderAfter time.Duration
	// ResumeBatch caps how many unsettled transactions one tick retries.
	ResumeBatch int
}

type TickReport struct {
	Expired  int `json:"expired"`
	Reminded int `json:"reminded"`
	Resumed  int `json:"resumed"`
	Failures int `json:"failures"`
}

// SchedulerService expires unpaid transfer requests, sends the single payment
// reminder and resumes interrupted settlements.
type SchedulerService struct {
	requests Requests
	settler  Settler
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewSchedulerService(requests Requests, settler Settler, cfg Config, logger *zap.Logger) *SchedulerService {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.ExpiryAfter <= 0 {
		cfg.ExpiryAfter = 24 * time.Hour
	}
	if cfg.ReminderAfter <= 0 {
		cfg.ReminderAfter = 12 * time.Hour
	}
	if cfg.ResumeBatch <= 0 {
		cfg.ResumeBatch = 100
	}
	return &SchedulerService{
		requests: requests,
		settler:  settler,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *SchedulerService) SetClock(now func() time.Time) {
	s.now = now
}

// Run ticks once immediately and then every interval until ctx is done.
func (s *SchedulerService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	s.Tick(ctx, s.now())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick performs one pass. Failures on individual requests are logged and the
// pass continues with the next one.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) *TickReport {
	report := &TickReport{}

	expiryCutoff := now.Add(-s.cfg.ExpiryAfter)
	stale, err := s.requests.ListStaleTransfers(ctx, expiryCutoff, 0)
	if err != nil {
		s.logger.Error("failed to list expired topup requests", zap.Error(err))
		report.Failures++
	}
	for _, req := range stale {
		expired, err := s.requests.Expire(ctx, req.ID, expiryCutoff)
		if err != nil {
			s.logger.Warn("failed to expire topup request", zap.String("request_id", req.ID), zap.Error(err))
			report.Failures++
			continue
		}
		if expired {
			report.Expired++
		}
	}

	reminderCutoff := now.Add(-s.cfg.ReminderAfter)
	due, err := s.requests.ListStaleTransfers(ctx, reminderCutoff, 0)
	if err != nil {
		s.logger.Error("failed to list topup requests due a reminder", zap.Error(err))
		report.Failures++
	}
	for _, req := range due {
		if req.ReminderSentAt != nil {
			continue
		}
		sent, err := s.requests.SendReminder(ctx, req.ID, reminderCutoff)
		if err != nil {
			s.logger.Warn("failed to send topup reminder", zap.String("request_id", req.ID), zap.Error(err))
			report.Failures++
			continue
		}
		if sent {
			report.Reminded++
		}
	}

	if s.settler != nil {
		resumed, err := s.settler.ResumeConfirmed(ctx, s.cfg.ResumeBatch)
		if err != nil {
			s.logger.Error("failed to resume settlements", zap.Error(err))
			report.Failures++
		}
		report.Resumed = resumed
	}

	s.logger.Info("scheduler tick completed",
		zap.Int("expired", report.Expired),
		zap.Int("reminded", report.Reminded),
		zap.Int("resumed", report.Resumed),
		zap.Int("failures", report.Failures),
	)
	return report
}
