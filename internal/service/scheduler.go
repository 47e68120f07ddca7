package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jask/tesouraria/internal/database/repository"
	"github.com/jask/tesouraria/internal/logging"
)

// Target is one branch account the scheduler keeps suggestions fresh for.
type Target struct {
	OrgID     string
	BranchID  string
	AccountID string
}

// Scheduler periodically regenerates suggestions over each target's scan window,
// using the Reconciler's configured score floor.
type Scheduler struct {
	Reconciler *Reconciler
	Counting   *CountingService
	Targets    []Target
	Interval   time.Duration
	Log        logrus.FieldLogger
}

// Run ticks until ctx is done. A failing target is logged and retried next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	s.Tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one regeneration pass over every target and returns how many succeeded.
func (s *Scheduler) Tick(ctx context.Context) int {
	log := logging.OrDiscard(s.Log)
	ok := 0
	for _, t := range s.Targets {
		fields := logrus.Fields{logging.FieldOrgID: t.OrgID, "branch_id": t.BranchID, logging.FieldAccountID: t.AccountID}
		now := s.Reconciler.now()
		start, end, err := s.Counting.NextScanWindow(ctx, t.OrgID, t.BranchID, now)
		if err != nil {
			log.WithFields(fields).WithError(err).Error("scan window")
			continue
		}
		scope := repository.Scope{OrgID: t.OrgID, AccountID: t.AccountID, PeriodStart: start, PeriodEnd: end}
		got, err := s.Reconciler.Regenerate(ctx, scope, ConfiguredFloor)
		if err != nil {
			log.WithFields(fields).WithError(err).Error("scheduled regenerate")
			continue
		}
		ok++
		log.WithFields(fields).WithField(logging.FieldCount, len(got)).Debug("scheduled regenerate done")
	}
	return ok
}
