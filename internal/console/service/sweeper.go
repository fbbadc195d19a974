package service

import (
	"context"
	"time"

	"github.com/xela07ax/assetdesk/internal/infra"
	"github.com/xela07ax/assetdesk/internal/metrics"
	"go.uber.org/zap"
)

// Sweeper переводит зависшие PENDING команды в EXPIRED, чтобы операторы не ждали агентов, которые не придут.
type Sweeper struct {
	expirer  CommandExpirer
	locker   Locker
	ttl      time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *zap.Logger
}

const (
	DefaultPendingTTL    = 10 * time.Minute
	DefaultSweepInterval = time.Minute
)

// NewSweeper подставляет значения по умолчанию вместо неположительных ttl и interval:
// нулевой ttl просрочил бы всю очередь, а нулевой interval роняет time.NewTicker.
func NewSweeper(expirer CommandExpirer, locker Locker, ttl, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if locker == nil {
		locker = nopLocker{}
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Sweeper{
		expirer:  expirer,
		locker:   locker,
		ttl:      ttl,
		interval: interval,
		metrics:  m,
		now:      time.Now,
		logger:   logger.Named("sweeper"),
	}
}

// Run крутится до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("command sweeper started", zap.Duration("ttl", s.ttl), zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("command sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce — один проход. Между инстансами консоли проход сериализуется блокировкой.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	release, acquired, err := s.locker.TryLock(ctx, infra.SweepLockKey, s.interval)
	if err != nil {
		s.logger.Warn("sweep lock unavailable, sweeping anyway", zap.Error(err))
	} else if !acquired {
		return 0, nil
	}
	defer release()

	now := s.now().UTC()
	n, err := s.expirer.ExpirePending(ctx, now.Add(-s.ttl), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.CommandsExpired.Add(float64(n))
		s.logger.Info("expired stale pending commands", zap.Int64("count", n))
	}
	return n, nil
}
