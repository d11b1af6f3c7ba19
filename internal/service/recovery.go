package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"docedit/internal/filestore"
	"docedit/internal/repository"
)

// Recovery repairs state left behind by a crash: interrupted file
// replacements on disk and records stuck in saving.
type Recovery struct {
	repo       repository.DocumentRepository
	files      *filestore.Layout
	staleAfter time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewRecovery builds a Recovery. Saves older than staleAfter are released.
func NewRecovery(repo repository.DocumentRepository, files *filestore.Layout, staleAfter time.Duration, log zerolog.Logger) *Recovery {
	return &Recovery{repo: repo, files: files, staleAfter: staleAfter, log: log, now: time.Now}
}

// Run performs the startup pass: it sweeps leftover temp and backup files and
// releases stale saves. Call it before serving traffic; the file sweep takes
// no per-document lock.
func (r *Recovery) Run(ctx context.Context) error {
	rep, err := r.files.Recover(0)
	if err != nil {
		return fmt.Errorf("recover files: %w", err)
	}
	n, err := r.releaseStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 || rep != (filestore.RecoveryReport{}) {
		r.log.Warn().
			Int("restored", rep.Restored).
			Int("removed_backups", rep.RemovedBak).
			Int("removed_temp", rep.RemovedTemp).
			Int64("released_saves", n).
			Msg("recovery_completed")
	}
	return nil
}

func (r *Recovery) releaseStale(ctx context.Context) (int64, error) {
	n, err := r.repo.ResetStaleSaves(ctx, r.now().Add(-r.staleAfter).UTC())
	if err != nil {
		return 0, fmt.Errorf("reset stale saves: %w", err)
	}
	return n, nil
}

// Start releases stale saves every interval until ctx ends. Files on disk
// are left to the startup pass.
func (r *Recovery) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.releaseStale(ctx)
				if err != nil {
					r.log.Error().Err(err).Msg("recovery_failed")
					continue
				}
				if n > 0 {
					r.log.Warn().Int64("released_saves", n).Msg("stale_saves_released")
				}
			}
		}
	}()
}
