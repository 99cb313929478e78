package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	listenPollInterval = 100 * time.Millisecond
	maxRedialBackoff   = 30 * time.Second
)

var errListenerStopped = errors.New("event listener is not running")

// Handler receives events decoded from NOTIFY payloads. It runs on the
// receive loop and must not block.
type Handler func(channel string, evt Event)

type subscribeReq struct {
	channel string
	done    chan error
}

// NotifyListener receives events broadcast by NotifyPublisher and hands
// them to a Handler. It backs `omnidesk events tail`.
//
// One goroutine owns the pgx connection: LISTEN requests are queued to it
// and run between notification waits.
type NotifyListener struct {
	connString string
	handler    Handler
	subs       chan subscribeReq

	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifyListener creates a listener for the database at connString.
func NewNotifyListener(connString string, handler Handler) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		handler:    handler,
		subs:       make(chan subscribeReq),
	}
}

// Start opens the LISTEN connection and starts the receive loop. The loop
// runs until ctx is done or Stop is called.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(loopCtx, conn)

	slog.Info("Event listener started")
	return nil
}

// Subscribe starts listening on channel. Subscribing twice is a no-op.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if l.done == nil {
		return errListenerStopped
	}
	req := subscribeReq{channel: channel, done: make(chan error, 1)}
	select {
	case l.subs <- req:
	case <-l.done:
		return errListenerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the receive loop and closes the connection, waiting at most
// until ctx is done.
func (l *NotifyListener) Stop(ctx context.Context) {
	if l.cancel == nil {
		return
	}
	l.cancel()
	select {
	case <-l.done:
	case <-ctx.Done():
	}
}

func (l *NotifyListener) run(ctx context.Context, conn *pgx.Conn) {
	defer close(l.done)
	listening := map[string]bool{}
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for ctx.Err() == nil {
		if conn == nil {
			conn = l.redial(ctx, listening)
			continue
		}

		select {
		case req := <-l.subs:
			req.done <- listen(ctx, conn, listening, req.channel)
			continue
		default:
		}

		waitCtx, cancel := context.WithTimeout(ctx, listenPollInterval)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()
		switch {
		case err == nil:
			l.dispatch(n.Channel, n.Payload)
		case ctx.Err() != nil:
			return
		case waitCtx.Err() != nil:
			// Poll timeout; check for new subscriptions.
		default:
			slog.Error("Lost LISTEN connection", "error", err)
			_ = conn.Close(ctx)
			conn = nil
		}
	}
}

func listen(ctx context.Context, conn *pgx.Conn, listening map[string]bool, channel string) error {
	if listening[channel] {
		return nil
	}
	sql := "LISTEN " + pgx.Identifier{channel}.Sanitize()
	if _, err := conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%s failed: %w", sql, err)
	}
	listening[channel] = true
	slog.Debug("Listening for events", "channel", channel)
	return nil
}

// redial reconnects with exponential backoff and restores every LISTEN.
// It returns nil once ctx is done.
func (l *NotifyListener) redial(ctx context.Context, listening map[string]bool) *pgx.Conn {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, maxRedialBackoff)
			continue
		}
		for ch := range listening {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("Failed to restore LISTEN", "channel", ch, "error", err)
			}
		}
		slog.Info("Event listener reconnected", "channels", len(listening))
		return conn
	}
}

func (l *NotifyListener) dispatch(channel, payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		slog.Warn("Dropping malformed NOTIFY payload", "channel", channel, "error", err)
		return
	}
	l.handler(channel, evt)
}
