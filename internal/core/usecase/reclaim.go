package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/ports"
)

// ReclaimUseCase returns checkouts held longer than the lease to the pool.
type ReclaimUseCase struct {
	users      ports.UserDirectory
	store      ports.TaggingStore
	observer   ports.TaggingObserver
	lease      time.Duration
	systemUser string
}

func NewReclaimUseCase(
	users ports.UserDirectory,
	store ports.TaggingStore,
	observer ports.TaggingObserver,
	lease time.Duration,
	systemUser string,
) *ReclaimUseCase {
	return &ReclaimUseCase{
		users:      users,
		store:      store,
		observer:   observerOrNoop(observer),
		lease:      lease,
		systemUser: systemUser,
	}
}

func (uc *ReclaimUseCase) Sweep(ctx context.Context) ([]int64, error) {
	if uc.lease <= 0 {
		return nil, domain.Invalid("reclaim sweep", "checkout lease is not configured")
	}
	actor, err := uc.users.ResolveUser(ctx, uc.systemUser)
	if err != nil {
		return nil, fmt.Errorf("resolve system user: %w", err)
	}
	ids, err := uc.store.ReclaimExpired(ctx, uc.lease, actor)
	if err != nil {
		return nil, fmt.Errorf("reclaim expired checkouts: %w", err)
	}
	if len(ids) > 0 {
		slog.InfoContext(ctx, "checkouts_reclaimed", "count", len(ids), "lease", uc.lease.String())
	}
	uc.observer.ObserveReclaimed(len(ids))
	return ids, nil
}

// sweepObserver is implemented by observers that also track sweep outcomes.
type sweepObserver interface {
	ObserveSweep(err error)
}

// Run sweeps every interval until ctx is done. Sweep errors are logged and the loop continues.
func (uc *ReclaimUseCase) Run(ctx context.Context, interval time.Duration) {
	sweeps, _ := uc.observer.(sweepObserver)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := uc.Sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reclaim_sweep_failed", "error", err)
			}
			if sweeps != nil {
				sweeps.ObserveSweep(err)
			}
		}
	}
}
