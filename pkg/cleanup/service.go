// Package cleanup closes conversations customers walked away from.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/omnidesk/omnidesk/pkg/clock"
	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/models"
)

// IdleLister lists active sessions without recent activity.
type IdleLister interface {
	ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.ChatSession, error)
}

// IdleCloser ends a session if it is still idle.
type IdleCloser interface {
	EndIfIdle(ctx context.Context, sessionID string, cutoff time.Time) (bool, error)
}

// Service periodically ends sessions idle for longer than
// IdleSessionTimeout, releasing any agent slot they hold.
//
// Runs are idempotent and safe from multiple replicas: every close
// re-checks idleness under the session lock.
type Service struct {
	config *config.RetentionConfig
	lister IdleLister
	closer IdleCloser
	clock  clock.Clock

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. A nil clk uses the system clock.
func NewService(cfg *config.RetentionConfig, lister IdleLister, closer IdleCloser, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System
	}
	return &Service{
		config: cfg,
		lister: lister,
		closer: closer,
		clock:  clk,
	}
}

// Start launches the background cleanup loop. It does nothing when the
// job is disabled or already running.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if !s.config.Enabled() {
		slog.Info("Idle session cleanup disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"idle_session_timeout", s.config.IdleSessionTimeout,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.closeIdleSessions(ctx)
}

// closeIdleSessions returns how many sessions it ended.
func (s *Service) closeIdleSessions(ctx context.Context) int {
	cutoff := s.clock.Now().Add(-s.config.IdleSessionTimeout)
	idle, err := s.lister.ListIdleSessions(ctx, cutoff, s.config.CleanupBatch)
	if err != nil {
		slog.Error("Cleanup: listing idle sessions failed", "error", err)
		return 0
	}

	closed := 0
	for _, sess := range idle {
		if ctx.Err() != nil {
			break
		}
		ended, err := s.closer.EndIfIdle(ctx, sess.ID, cutoff)
		if err != nil {
			slog.Warn("Cleanup: closing idle session failed",
				"session_id", sess.ID,
				"organization_id", sess.OrganizationID,
				"error", err)
			continue
		}
		if ended {
			closed++
		}
	}
	if closed > 0 {
		slog.Info("Cleanup: closed idle sessions", "count", closed, "cutoff", cutoff)
	}
	return closed
}
