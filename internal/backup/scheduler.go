package backup

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/logger"
)

// Start runs a backup every configured interval until ctx is cancelled. The
// returned channel is closed once the loop has stopped. A zero interval
// disables the schedule.
func (m *Manager) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	interval := m.settings.Interval
	if interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.log.Info("Backup schedule started",
			logger.Duration("interval", interval),
			logger.Int("keep", m.settings.Keep))

		for {
			select {
			case <-ctx.Done():
				m.log.Debug("Backup schedule stopped")
				return
			case <-ticker.C:
				if _, err := m.Run(ctx); err != nil {
					m.log.Error("Scheduled backup failed", logger.Error(err))
				}
			}
		}
	}()

	return done
}
