package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"farmdispatch/internal/observability"
	"farmdispatch/internal/repository"
)

const sweepLockName = "ping-expiry-sweeper"

// ExpirySweeper expires overdue offers in bulk. Expiry is already enforced when an offer is
// read or answered; sweeping only keeps listings tidy.
type ExpirySweeper struct {
	pings    repository.PingRepository
	lock     SweepLock
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewExpirySweeper creates a new ExpirySweeper. lock may be nil for a single instance.
func NewExpirySweeper(pings repository.PingRepository, lock SweepLock, interval time.Duration, log logrus.FieldLogger) *ExpirySweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{pings: pings, lock: lock, interval: interval, log: log, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *ExpirySweeper) WithClock(now func() time.Time) *ExpirySweeper {
	s.now = now
	return s
}

// SweepOnce expires every overdue pending offer. It does nothing when another instance
// holds the sweep lock.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int64, error) {
	if s.lock != nil {
		token, acquired, err := s.lock.AcquireSweepLock(ctx, sweepLockName, s.interval)
		if err != nil {
			return 0, err
		}
		if !acquired {
			return 0, nil
		}
		defer func() {
			if err := s.lock.ReleaseSweepLock(context.WithoutCancel(ctx), sweepLockName, token); err != nil {
				s.log.WithError(err).Warn("failed to release sweep lock")
			}
		}()
	}

	n, err := s.pings.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}

	if n > 0 {
		observability.PingsExpiredBySweeper.Add(float64(n))
		s.log.WithField("expired", n).Info("expired overdue offers")
	}
	return n, nil
}

// Run sweeps on every tick until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("offer expiry sweep failed")
			}
		}
	}
}
