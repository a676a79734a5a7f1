// Package targeting implements the Targeting Service (§4.2): resolving a
// PRODUCT broadcast's audience asynchronously, out of the admission path,
// so a slow or unavailable UserService never blocks broadcast creation.
package targeting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/resilience"
)

// UserService resolves a product id to the user ids entitled to it.
// Deliberately narrower than pkg/lifecycle.UserService (which resolves
// roles) — each package only depends on the method it calls, even though
// both are, in production, the same opaque directory service (spec line
// 7: "UserService is an opaque interface returning user IDs for a role or
// product").
type UserService interface {
	ResolveProduct(ctx context.Context, productID string) ([]string, error)
}

// Service precomputes PRODUCT audiences and advances PREPARING broadcasts
// to READY once their target list is persisted.
type Service struct {
	db          *database.Client
	userService UserService
	breaker     *resilience.CircuitBreaker
	bulkhead    *resilience.Bulkhead
	log         *slog.Logger
}

// New builds a targeting Service.
func New(db *database.Client, userService UserService, breaker *resilience.CircuitBreaker, bulkhead *resilience.Bulkhead, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, userService: userService, breaker: breaker, bulkhead: bulkhead, log: log}
}

// Precompute resolves and persists a PRODUCT broadcast's target list and
// advances it from PREPARING to READY. It is idempotent by broadcast id
// (checked via TargetRepository.Exists) so it's safe to invoke both from
// lifecycle.Service.PrecomputeTrigger (on admission) and from the
// precompute-due scheduler job (§4.3 task 1) without double-resolving.
//
// On UserService failure it logs, moves the broadcast from PREPARING to
// FAILED and returns the error; a FAILED broadcast is not retried.
func (s *Service) Precompute(ctx context.Context, broadcastID int64) error {
	exists, err := s.db.Targets.Exists(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("check existing targets: %w", err)
	}
	if exists {
		return nil
	}

	b, err := s.db.Broadcasts.Get(ctx, broadcastID)
	if err != nil {
		return fmt.Errorf("load broadcast: %w", err)
	}
	if b.TargetType != models.TargetProduct {
		return nil
	}
	if b.Status != models.StatusPreparing {
		// Already advanced (or cancelled/expired) by a concurrent run.
		return nil
	}

	userIDs, err := s.resolveProducts(ctx, b.TargetIDs)
	if err != nil {
		s.log.Warn("precompute failed, marking broadcast FAILED",
			"broadcast_id", broadcastID, "error", err)
		if uerr := s.db.Broadcasts.UpdateStatus(ctx, s.db.DB(), broadcastID, models.StatusFailed, models.StatusPreparing); uerr != nil {
			s.log.Error("failed to mark broadcast FAILED", "broadcast_id", broadcastID, "error", uerr)
		}
		return err
	}

	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin precompute transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.db.Targets.InsertBatch(ctx, tx, broadcastID, userIDs); err != nil {
		return err
	}
	if err := s.db.Statistics.Init(ctx, tx, broadcastID, int64(len(userIDs))); err != nil {
		return err
	}
	if err := s.db.Broadcasts.UpdateStatus(ctx, tx, broadcastID, models.StatusReady, models.StatusPreparing); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit precompute transaction: %w", err)
	}

	s.log.Info("precompute complete", "broadcast_id", broadcastID, "targeted", len(userIDs))
	return nil
}

func (s *Service) resolveProducts(ctx context.Context, productIDs []string) ([]string, error) {
	var resolved []string
	err := s.bulkhead.Execute(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			seen := make(map[string]struct{})
			for _, productID := range productIDs {
				ids, err := s.userService.ResolveProduct(ctx, productID)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if _, ok := seen[id]; ok {
						continue
					}
					seen[id] = struct{}{}
					resolved = append(resolved, id)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}
