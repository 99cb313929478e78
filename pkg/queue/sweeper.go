// Package queue works the waiting queue: sessions that escalated while no
// agent had capacity sit in PENDING_HUMAN until an agent frees up.
package queue

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/services"
)

// PendingLister lists sessions waiting for a human agent.
type PendingLister interface {
	ListPendingSessions(ctx context.Context, limit int) ([]*models.ChatSession, error)
}

// Assigner offers a pending session to the available agents again.
type Assigner interface {
	RetryAssignment(ctx context.Context, sessionID string) (*services.EscalationOutcome, error)
}

// Sweeper periodically retries assignment of pending sessions, highest
// priority first and oldest first within a priority.
//
// Sweeps are safe to run from multiple replicas: each handover re-checks
// state and capacity under the session lock.
type Sweeper struct {
	pending  PendingLister
	assigner Assigner
	interval time.Duration
	batch    int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. A non-positive interval disables Start.
func NewSweeper(pending PendingLister, assigner Assigner, interval time.Duration, batch int) *Sweeper {
	return &Sweeper{
		pending:  pending,
		assigner: assigner,
		interval: interval,
		batch:    batch,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil || s.interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Queue sweeper started", "interval", s.interval, "batch", s.batch)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Queue sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many sessions were handed to an agent.
func (s *Sweeper) Sweep(ctx context.Context) int {
	sessions, err := s.pending.ListPendingSessions(ctx, s.batch)
	if err != nil {
		slog.Error("Queue sweep: listing pending sessions failed", "error", err)
		return 0
	}
	slices.SortStableFunc(sessions, func(a, b *models.ChatSession) int {
		return cmp.Compare(b.Priority.Rank(), a.Priority.Rank())
	})

	assigned := 0
	for _, sess := range sessions {
		if ctx.Err() != nil {
			break
		}
		out, err := s.assigner.RetryAssignment(ctx, sess.ID)
		if err != nil {
			slog.Warn("Queue sweep: assignment failed",
				"session_id", sess.ID,
				"organization_id", sess.OrganizationID,
				"error", err)
			continue
		}
		if out.Agent != nil {
			assigned++
		}
	}
	if assigned > 0 {
		slog.Info("Queue sweep: assigned waiting sessions", "assigned", assigned, "waiting", len(sessions))
	}
	return assigned
}
