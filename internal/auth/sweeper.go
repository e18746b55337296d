package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger is the maintenance half of Service.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
	PurgeRevoked(ctx context.Context) (int64, error)
}

// Sweeper deletes expired and revoked sessions on an interval.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewSweeper(p Purger, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{purger: p, interval: interval, logger: logger}
}

// SweepOnce runs both purges. A failing purge does not stop the other.
func (s *Sweeper) SweepOnce(ctx context.Context) (expired, revoked int64, err error) {
	expired, errExp := s.purger.PurgeExpired(ctx)
	if errExp != nil {
		s.logger.Warnw("purge expired sessions failed", "err", errExp)
		err = errExp
	}
	revoked, errRev := s.purger.PurgeRevoked(ctx)
	if errRev != nil {
		s.logger.Warnw("purge revoked sessions failed", "err", errRev)
		if err == nil {
			err = errRev
		}
	}
	if expired > 0 || revoked > 0 {
		s.logger.Infow("sessions purged", "expired", expired, "revoked", revoked)
	}
	return expired, revoked, err
}

// Run sweeps every interval until ctx is done. A non-positive interval
// returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _, _ = s.SweepOnce(ctx)
		}
	}
}
