package dcb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.jetify.com/typeid"
)

const (
	lockBackoffStart = 10 * time.Millisecond
	lockBackoffCap   = 500 * time.Millisecond
	lockFileName     = ".store.lock"
)

// crossProcessLock provides exclusive access to a store's directory
// across processes and threads (spec §4.1), via an flock'd sentinel
// file. It is safe for concurrent use from multiple goroutines in this
// process: each Acquire call opens and locks its own file descriptor.
type crossProcessLock struct {
	storePath string
	timeout   time.Duration
	log       zerolog.Logger
	metrics   *Metrics
}

func newCrossProcessLock(storePath string, timeout time.Duration, log zerolog.Logger, metrics *Metrics) *crossProcessLock {
	return &crossProcessLock{storePath: storePath, timeout: timeout, log: log, metrics: metrics}
}

// lockHandle represents one held lock; release it exactly once.
type lockHandle struct {
	f *os.File
}

// Release unlocks and closes the sentinel file. Best-effort: errors are
// ignored, not returned, matching spec §4.1 ("no retry loop on release").
func (h *lockHandle) Release() {
	if h == nil || h.f == nil {
		return
	}
	_ = syscall.Flock(int(h.f.Fd()), syscall.LOCK_UN)
	_ = h.f.Close()
}

// Acquire blocks (honoring ctx) until the sentinel file is exclusively
// locked, retrying with bounded exponential backoff between 10ms and
// 500ms until l.timeout elapses, then fails with a TimeoutError naming
// the sentinel path and the configuration knob to adjust.
func (l *crossProcessLock) Acquire(ctx context.Context) (*lockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{EventStoreError{Op: "Acquire", Err: err}}
	}

	if err := os.MkdirAll(l.storePath, 0o755); err != nil {
		return nil, &IOError{
			EventStoreError: EventStoreError{Op: "Acquire", Err: err},
			Path:            l.storePath,
		}
	}
	sentinel := filepath.Join(l.storePath, lockFileName)

	start := time.Now()
	deadline := start.Add(l.timeout)
	backoff := lockBackoffStart

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, &CancelledError{EventStoreError{Op: "Acquire", Err: ctx.Err()}}
		default:
		}

		f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, &IOError{
				EventStoreError: EventStoreError{Op: "Acquire", Err: err},
				Path:            sentinel,
			}
		}

		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
			token, _ := typeid.WithPrefix("lock")
			_ = f.Truncate(0)
			_, _ = f.WriteAt([]byte(token.String()), 0)
			l.log.Debug().Str("store", l.storePath).Int("attempt", attempt).Msg("cross-process lock acquired")
			l.metrics.observeLockWait(time.Since(start).Seconds())
			return &lockHandle{f: f}, nil
		}
		_ = f.Close()

		if time.Now().Add(backoff).After(deadline) {
			l.log.Warn().Str("store", l.storePath).Dur("timeout", l.timeout).Msg("cross-process lock timed out")
			return nil, &TimeoutError{
				EventStoreError: EventStoreError{
					Op:  "Acquire",
					Err: fmt.Errorf("lock %q not acquired within %s", sentinel, l.timeout),
				},
				SentinelPath: sentinel,
				ConfigField:  "cross_process_lock_timeout",
			}
		}

		select {
		case <-ctx.Done():
			return nil, &CancelledError{EventStoreError{Op: "Acquire", Err: ctx.Err()}}
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > lockBackoffCap {
			backoff = lockBackoffCap
		}
	}
}
