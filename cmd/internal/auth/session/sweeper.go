package session

import (
	"context"
	"time"
)

// Sweep deletes entries that expired more than SweepGrace ago.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx, s.now().Add(-s.cfg.SweepGrace))
	if err != nil {
		return 0, persistence("delete expired", err)
	}
	return n, nil
}

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context) {
	t := time.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error("auth.sweep.failed", "err", err)
				}
				continue
			}
			if n > 0 {
				s.log.Info("auth.sweep.done", "deleted", n)
			}
		}
	}
}
