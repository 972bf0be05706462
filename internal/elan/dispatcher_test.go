package elan_test

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dantte-lp/goelan/internal/elan"
)

var errTransient = errors.New("transient failure")

func newTestDispatcher(opts ...elan.DispatcherOption) *elan.Dispatcher {
	return elan.NewDispatcher(slog.New(slog.DiscardHandler), opts...)
}

func TestDispatcherRunsKeyInOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newTestDispatcher()
		defer d.Close()

		key := elan.DomainKey("tenant-a")

		var (
			mu  sync.Mutex
			got []int
		)
		for i := range 10 {
			err := d.Submit(key, "append", func(context.Context) error {
				// Yield so a concurrent runner, if any, would interleave.
				time.Sleep(time.Millisecond)
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
		}

		if err := d.Wait(t.Context()); err != nil {
			t.Fatalf("Wait: %v", err)
		}

		for i, v := range got {
			if v != i {
				t.Fatalf("job order = %v, want ascending", got)
			}
		}
		if len(got) != 10 {
			t.Fatalf("ran %d jobs, want 10", len(got))
		}

		s := d.Stats()
		if s.Done != 10 || s.Failed != 0 || s.Pending != 0 || s.Running != 0 || s.Keys != 0 {
			t.Errorf("stats = %+v", s)
		}
	})
}

func TestDispatcherRunsKeysConcurrently(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newTestDispatcher()
		defer d.Close()

		other := make(chan struct{})

		// The first job can only finish once a job on another key has run.
		err := d.Submit(elan.TunnelSwitchKey(torA, 1), "wait-for-other", func(ctx context.Context) error {
			select {
			case <-other:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		err = d.Submit(elan.TunnelSwitchKey(torA, 2), "signal", func(context.Context) error {
			close(other)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}

		if err := d.Wait(t.Context()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if s := d.Stats(); s.Done != 2 {
			t.Errorf("done = %d, want 2", s.Done)
		}
	})
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		metrics := newMockMetrics()
		d := newTestDispatcher(
			elan.WithMaxRetries(5),
			elan.WithBackoff(100*time.Millisecond, time.Second),
			elan.WithDispatcherMetrics(metrics),
		)
		defer d.Close()

		attempts := 0
		start := time.Now()
		err := d.Submit(elan.DomainKey("tenant-a"), "flaky", func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errTransient
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}

		if err := d.Wait(t.Context()); err != nil {
			t.Fatalf("Wait: %v", err)
		}

		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
		// Two backoffs of at least half the 100ms initial interval each.
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Errorf("elapsed = %s, want backoff between attempts", elapsed)
		}

		s := d.Stats()
		if s.Done != 1 || s.Failed != 0 || s.Retrying != 0 {
			t.Errorf("stats = %+v, want one done job", s)
		}
		if got := metrics.job(elan.JobRetrying); got != 2 {
			t.Errorf("retrying reports = %d, want 2", got)
		}
		if got := metrics.job(elan.JobDone); got != 1 {
			t.Errorf("done reports = %d, want 1", got)
		}
	})
}

func TestDispatcherGivesUpAfterMaxRetries(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newTestDispatcher(elan.WithMaxRetries(2), elan.WithBackoff(10*time.Millisecond, 50*time.Millisecond))
		defer d.Close()

		attempts := 0
		_ = d.Submit(elan.DomainKey("tenant-a"), "broken", func(context.Context) error {
			attempts++
			return errTransient
		})

		// A later job on the same key still runs after the failure.
		ran := false
		_ = d.Submit(elan.DomainKey("tenant-a"), "after", func(context.Context) error {
			ran = true
			return nil
		})

		if err := d.Wait(t.Context()); err != nil {
			t.Fatalf("Wait: %v", err)
		}

		if attempts != 3 {
			t.Errorf("attempts = %d, want 1 + 2 retries", attempts)
		}
		if !ran {
			t.Error("job queued behind the failed one did not run")
		}
		if s := d.Stats(); s.Failed != 1 || s.Done != 1 {
			t.Errorf("stats = %+v, want one failed and one done", s)
		}
	})
}

func TestDispatcherPermanentErrorStopsRetries(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newTestDispatcher()
		defer d.Close()

		attempts := 0
		_ = d.Submit(elan.DomainKey("tenant-a"), "permanent", func(context.Context) error {
			attempts++
			return backoff.Permanent(errTransient)
		})

		if err := d.Wait(t.Context()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
		if s := d.Stats(); s.Failed != 1 {
			t.Errorf("failed = %d, want 1", s.Failed)
		}
	})
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher()
	d.Close()

	err := d.Submit(elan.TunnelSwitchKey(netip.Addr{}, 1), "late", func(context.Context) error { return nil })
	if !errors.Is(err, elan.ErrDispatcherClosed) {
		t.Errorf("Submit after Close = %v, want %v", err, elan.ErrDispatcherClosed)
	}
}

func TestDispatcherCloseCancelsRunningJob(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newTestDispatcher()

		started := make(chan struct{})
		_ = d.Submit(elan.DomainKey("tenant-a"), "blocking", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return backoff.Permanent(ctx.Err())
		})

		<-started
		d.Close()

		if s := d.Stats(); s.Failed != 1 || s.Running != 0 {
			t.Errorf("stats after Close = %+v", s)
		}
	})
}

func TestDispatcherWaitHonoursContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newTestDispatcher()
		defer d.Close()

		release := make(chan struct{})
		_ = d.Submit(elan.DomainKey("tenant-a"), "slow", func(context.Context) error {
			<-release
			return nil
		})

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()
		if err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Wait = %v, want deadline exceeded", err)
		}

		close(release)
		if err := d.Wait(t.Context()); err != nil {
			t.Errorf("Wait after release: %v", err)
		}
	})
}

func TestDispatcherDoReturnsFinalOutcome(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newTestDispatcher(elan.WithMaxRetries(1), elan.WithBackoff(10*time.Millisecond, 10*time.Millisecond))
		defer d.Close()

		key := elan.DomainKey("tenant-a")

		attempts := 0
		err := d.Do(t.Context(), key, "flaky", func(context.Context) error {
			attempts++
			if attempts == 1 {
				return errTransient
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do = %v, want success on retry", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}

		err = d.Do(t.Context(), key, "broken", func(context.Context) error { return errTransient })
		if !errors.Is(err, errTransient) {
			t.Errorf("Do = %v, want %v", err, errTransient)
		}
		if s := d.Stats(); s.Done != 1 || s.Failed != 1 {
			t.Errorf("stats = %+v, want one done and one failed", s)
		}
	})
}

func TestDispatcherDoWaitsBehindQueuedJobs(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d := newTestDispatcher()
		defer d.Close()

		key := elan.DomainKey("tenant-a")
		release := make(chan struct{})
		first := false
		_ = d.Submit(key, "first", func(context.Context) error {
			<-release
			first = true
			return nil
		})

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()
		err := d.Do(ctx, key, "second", func(context.Context) error { return nil })
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Do = %v, want deadline exceeded while blocked", err)
		}

		close(release)
		sawFirst := false
		if err := d.Do(t.Context(), key, "third", func(context.Context) error {
			sawFirst = first
			return nil
		}); err != nil {
			t.Fatalf("Do: %v", err)
		}
		if !sawFirst {
			t.Error("job ran before the one queued ahead of it")
		}
	})
}
