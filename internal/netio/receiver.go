package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dantte-lp/goelan/internal/dhcp"
)

// Default reopen backoff bounds for Serve.
const (
	DefaultReopenInitial = 500 * time.Millisecond
	DefaultReopenMax     = 30 * time.Second
)

// PacketHandler answers one received frame. dhcp.Handler implements it.
type PacketHandler interface {
	HandleFrame(frame []byte, in dhcp.Ingress) ([]byte, bool)
}

// OpenFunc opens a fresh FrameConn for the receiver's interface.
type OpenFunc func() (FrameConn, error)

// Receiver reads frames from a FrameConn, passes them to a PacketHandler
// and writes any reply back on the same connection.
type Receiver struct {
	handler PacketHandler
	ingress dhcp.Ingress
	logger  *slog.Logger

	reopenInitial time.Duration
	reopenMax     time.Duration
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReopenBackoff sets the backoff bounds Serve uses between reopen
// attempts.
func WithReopenBackoff(initial, maxInterval time.Duration) ReceiverOption {
	return func(r *Receiver) {
		r.reopenInitial = initial
		r.reopenMax = maxInterval
	}
}

// NewReceiver creates a Receiver. Every frame is handled with the given
// ingress context; in.Interface also names the link Serve watches.
func NewReceiver(handler PacketHandler, in dhcp.Ingress, logger *slog.Logger, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		handler:       handler,
		ingress:       in,
		logger:        logger.With(slog.String("component", "netio.receiver"), slog.String("interface", in.Interface)),
		reopenInitial: DefaultReopenInitial,
		reopenMax:     DefaultReopenMax,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run reads frames from conn until ctx is cancelled or a read fails.
// conn is closed when Run returns. Cancellation returns nil.
func (r *Receiver) Run(ctx context.Context, conn FrameConn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	buf := make([]byte, MaxFrameSize)
	for {
		n, meta, err := conn.ReadFrame(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiver %s: %w", r.ingress.Interface, err)
		}
		if meta.Outgoing {
			continue
		}

		in := r.ingress
		if meta.VNI != 0 {
			in.VNI = meta.VNI
		}
		reply, ok := r.handler.HandleFrame(buf[:n], in)
		if !ok {
			continue
		}
		if err := conn.WriteFrame(reply, meta); err != nil {
			if errors.Is(err, ErrSocketClosed) && ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("write reply failed", slog.String("error", err.Error()))
		}
	}
}

// Serve keeps a receiver running on the interface until ctx is cancelled.
// A connection is opened with open and reopened with exponential backoff
// whenever opening or reading fails. When links is non-nil, a down event
// for the interface closes the current connection and an up event cuts the
// reopen wait short.
func (r *Receiver) Serve(ctx context.Context, open OpenFunc, links <-chan InterfaceEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.reopenInitial
	b.MaxInterval = r.reopenMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		conn, err := open()
		if err == nil {
			r.logger.Info("packet-in started")
			err = r.runWatched(ctx, conn, links)
			if ctx.Err() != nil {
				r.logger.Info("packet-in stopped")
				return nil
			}
			b.Reset()
		}
		if err != nil {
			r.logger.Warn("packet-in unavailable", slog.String("error", err.Error()))
		} else {
			r.logger.Warn("link down, packet-in paused")
		}

		if !r.waitReopen(ctx, links, b.NextBackOff()) {
			return nil
		}
	}
}

// runWatched runs the receiver on conn and closes it early on a link down
// event for the receiver's interface. A nil error with ctx still live means
// the link went down.
func (r *Receiver) runWatched(ctx context.Context, conn FrameConn, links <-chan InterfaceEvent) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r.awaitLink(connCtx, links, false) {
			cancel()
		}
	}()

	err := r.Run(connCtx, conn)
	cancel()
	<-done
	return err
}

// waitReopen waits d, or until the interface reports up. It returns false
// when ctx is cancelled.
func (r *Receiver) waitReopen(ctx context.Context, links <-chan InterfaceEvent, d time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	r.awaitLink(waitCtx, links, true)
	return ctx.Err() == nil
}

// awaitLink blocks until links reports the receiver's interface in the
// wanted state (true) or ctx is done (false).
func (r *Receiver) awaitLink(ctx context.Context, links <-chan InterfaceEvent, up bool) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-links:
			if !ok {
				links = nil
				continue
			}
			if ev.IfName == r.ingress.Interface && ev.Up == up {
				return true
			}
		}
	}
}
