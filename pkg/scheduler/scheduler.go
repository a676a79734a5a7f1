// Package scheduler runs the six singleton-locked periodic tasks from
// §4.3: precompute-due, activate-on-write, activate-on-read, expire,
// reap-finalized, reap-stale-pods. Every task is wrapped in
// distlock.RunLocked so exactly one pod in the cluster executes a given
// tick, with the lockAtLeastFor/lockAtMostFor lease discipline from §5.
package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/config"
	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/distlock"
	"github.com/codeready-toolchain/broadcaster/pkg/lifecycle"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/presence"
	"github.com/codeready-toolchain/broadcaster/pkg/targeting"
)

// lock keys, namespaced so each task has its own independent lease.
const (
	lockPrecompute    = "scheduler:precompute"
	lockActivateWrite = "scheduler:activate-write"
	lockActivateRead  = "scheduler:activate-read"
	lockExpire        = "scheduler:expire"
	lockReapFinalized = "scheduler:reap-finalized"
	lockReapStalePods = "scheduler:reap-stale-pods"
)

// Scheduler owns the ticker goroutines for every periodic task.
type Scheduler struct {
	db         *database.Client
	lifecycle  *lifecycle.Service
	targeting  *targeting.Service
	presence   presence.Store
	locker     distlock.Locker
	cfg        *config.SchedulerConfig
	retention  *config.RetentionConfig
	log        *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a Scheduler. Call Start to begin running tasks and Stop to
// drain them.
func New(db *database.Client, lifecycleSvc *lifecycle.Service, targetingSvc *targeting.Service, presenceStore presence.Store, locker distlock.Locker, cfg *config.SchedulerConfig, retention *config.RetentionConfig, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		db: db, lifecycle: lifecycleSvc, targeting: targetingSvc,
		presence: presenceStore, locker: locker, cfg: cfg, retention: retention, log: log,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

// Start runs every task on its own ticker until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	tasks := []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context)
	}{
		{"precompute", s.cfg.TickInterval, s.runPrecomputeDue},
		{"activate-write", s.cfg.TickInterval, s.runActivateOnWrite},
		{"activate-read", s.cfg.TickInterval, s.runActivateOnRead},
		{"expire", s.cfg.TickInterval, s.runExpire},
		{"reap-finalized", s.retention.ReapInterval, s.runReapFinalized},
		{"reap-stale-pods", s.cfg.ReapStalePodsInterval, s.runReapStalePods},
	}

	for _, task := range tasks {
		interval := task.interval
		if interval <= 0 {
			interval = s.cfg.TickInterval
		}
		go s.loop(ctx, task.name, interval, task.run)
	}
	go func() {
		<-s.stop
		close(s.done)
	}()
}

// Stop signals every task loop to exit. It returns once the signal is
// sent; it does not wait for a task run that is already in progress.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// runPrecomputeDue implements §4.3 task 1: claim SCHEDULED PRODUCT
// broadcasts whose scheduled_at has entered the prefetch window, flip
// them to PREPARING, then hand each to the Targeting Service outside the
// claiming transaction (resolving against UserService can be slow; the
// claim itself should be fast and release its row locks quickly).
func (s *Scheduler) runPrecomputeDue(ctx context.Context) {
	ran, err := distlock.RunLocked(ctx, s.locker, lockPrecompute,
		s.cfg.ActivationLockAtLeastFor, s.cfg.ActivationLockAtMostFor, func(ctx context.Context) error {
			horizon := time.Now().Add(s.cfg.UserFetchDelay + s.cfg.PrecomputeSafetyBuffer)
			ids, err := s.withClaim(ctx, func(tx *sql.Tx) ([]int64, error) {
				due, err := s.db.Broadcasts.ListDueForPrecompute(ctx, tx, horizon, s.cfg.ActivationBatchSize)
				if err != nil {
					return nil, err
				}
				var claimed []int64
				for _, b := range due {
					if err := s.db.Broadcasts.UpdateStatus(ctx, tx, b.ID, models.StatusPreparing, models.StatusScheduled); err != nil {
						return nil, err
					}
					claimed = append(claimed, b.ID)
				}
				return claimed, nil
			})
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := s.targeting.Precompute(ctx, id); err != nil {
					s.log.Warn("precompute failed", "broadcast_id", id, "error", err)
				}
			}
			return nil
		})
	s.logTaskResult("precompute", ran, err)
}

// runActivateOnWrite implements §4.3 task 2: READY PRODUCT broadcasts
// whose scheduled_at (or immediate admission) has arrived move to ACTIVE.
func (s *Scheduler) runActivateOnWrite(ctx context.Context) {
	ran, err := distlock.RunLocked(ctx, s.locker, lockActivateWrite,
		s.cfg.ActivationLockAtLeastFor, s.cfg.ActivationLockAtMostFor, func(ctx context.Context) error {
			return s.activateBatch(ctx, models.StatusReady, nil)
		})
	s.logTaskResult("activate-write", ran, err)
}

// runActivateOnRead implements §4.3 task 3: SCHEDULED ALL/ROLE/SELECTED
// broadcasts whose scheduled_at has arrived move to ACTIVE, resolving
// ROLE/SELECTED per-user rows for the first time at this point.
func (s *Scheduler) runActivateOnRead(ctx context.Context) {
	ran, err := distlock.RunLocked(ctx, s.locker, lockActivateRead,
		s.cfg.ActivationLockAtLeastFor, s.cfg.ActivationLockAtMostFor, func(ctx context.Context) error {
			return s.activateBatch(ctx, models.StatusScheduled, []models.TargetType{models.TargetAll, models.TargetRole, models.TargetSelected})
		})
	s.logTaskResult("activate-read", ran, err)
}

func (s *Scheduler) activateBatch(ctx context.Context, status models.BroadcastStatus, targetTypes []models.TargetType) error {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	due, err := s.db.Broadcasts.ListDueForActivation(ctx, tx, status, targetTypes, time.Now(), s.cfg.ActivationBatchSize)
	if err != nil {
		return err
	}
	for _, b := range due {
		if err := s.lifecycle.ActivateTx(ctx, tx, b); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// runExpire implements §4.3 task 4: ACTIVE broadcasts whose expires_at
// has passed move to EXPIRED, sharing lifecycle.Service's cancel/expire
// side effects (supersede non-final rows, write one outbox event).
func (s *Scheduler) runExpire(ctx context.Context) {
	ran, err := distlock.RunLocked(ctx, s.locker, lockExpire,
		s.cfg.ActivationLockAtLeastFor, s.cfg.ActivationLockAtMostFor, func(ctx context.Context) error {
			tx, err := s.db.DB().BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback() }()

			due, err := s.db.Broadcasts.ListDueForExpiry(ctx, tx, time.Now(), s.cfg.ActivationBatchSize)
			if err != nil {
				return err
			}
			for _, b := range due {
				if err := s.lifecycle.CancelOrExpireTx(ctx, tx, b, models.StatusExpired, models.EventExpired); err != nil {
					return err
				}
			}
			return tx.Commit()
		})
	s.logTaskResult("expire", ran, err)
}

// runReapFinalized implements §4.3 task 5: drop precomputed targets and
// unread per-user rows for broadcasts that reached a terminal state more
// than RetentionConfig.FinalizedAge ago.
func (s *Scheduler) runReapFinalized(ctx context.Context) {
	ran, err := distlock.RunLocked(ctx, s.locker, lockReapFinalized,
		s.cfg.ActivationLockAtLeastFor, s.cfg.ActivationLockAtMostFor, func(ctx context.Context) error {
			cutoff := time.Now().Add(-s.retention.FinalizedAge)
			ids, err := s.db.Broadcasts.ListFinalizedOlderThan(ctx, cutoff, s.cfg.ActivationBatchSize)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if _, err := s.db.Targets.DeleteForBroadcast(ctx, id); err != nil {
					return err
				}
				if _, err := s.db.Messages.DeleteUnreadOlderThan(ctx, id); err != nil {
					return err
				}
			}
			return nil
		})
	s.logTaskResult("reap-finalized", ran, err)
}

// runReapStalePods implements §4.3 task 6: a pod that stopped sending
// heartbeats (crashed, evicted) has its presence rows cleared so stale
// connections never receive a dispatch that nobody will read.
func (s *Scheduler) runReapStalePods(ctx context.Context) {
	ran, err := distlock.RunLocked(ctx, s.locker, lockReapStalePods,
		s.cfg.ActivationLockAtLeastFor, s.cfg.ActivationLockAtMostFor, func(ctx context.Context) error {
			stale, err := s.presence.StalePods(ctx, s.cfg.ReapStalePodsThreshold)
			if err != nil {
				return err
			}
			for _, pod := range stale {
				if err := s.presence.RemovePod(ctx, pod); err != nil {
					return err
				}
				s.log.Info("reaped stale pod", "pod", pod)
			}
			return nil
		})
	s.logTaskResult("reap-stale-pods", ran, err)
}

// withClaim runs fn inside a transaction and returns its result, giving
// the precompute task a claim-then-release-locks-fast shape distinct from
// the single-transaction activate/expire tasks (which do their full work
// while still holding the row locks, since that work is local DB writes
// rather than a network round trip to UserService).
func (s *Scheduler) withClaim(ctx context.Context, fn func(tx *sql.Tx) ([]int64, error)) ([]int64, error) {
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Scheduler) logTaskResult(name string, ran bool, err error) {
	if err != nil {
		s.log.Error("scheduler task failed", "task", name, "error", err)
		return
	}
	if ran {
		s.log.Debug("scheduler task ran", "task", name)
	}
}
