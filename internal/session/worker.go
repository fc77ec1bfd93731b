package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeongseonghan/radiolink/internal/frame"
	"github.com/jeongseonghan/radiolink/internal/link"
)

// defaultPollInterval paces the worker loop when the radio is idle.
const defaultPollInterval = 5 * time.Millisecond

// Worker drives one session from its own goroutine and serializes
// external access to it. The session itself stays lock-free; everything
// goes through the worker's mutex.
type Worker struct {
	mu   sync.Mutex
	s    *Session
	wake chan struct{}
}

// NewWorker wraps a session. Run must be started for traffic to flow.
func NewWorker(s *Session) *Worker {
	return &Worker{s: s, wake: make(chan struct{}, 1)}
}

// Run is the module's scheduler loop: poll the radio, push the queue,
// honor the backoff the session asks for. It returns when ctx is done.
func (w *Worker) Run(ctx context.Context) {
	timer := time.NewTimer(defaultPollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if err := w.s.Close(); err != nil {
				w.s.logger.Error("close radio", "err", err)
			}
			w.mu.Unlock()
			return
		case <-w.wake:
		case <-timer.C:
		}

		now := time.Now()
		w.mu.Lock()
		w.s.PollReceive(now)
		res, err := w.s.TransmitStep(now)
		w.mu.Unlock()

		wait := defaultPollInterval
		if err != nil {
			w.s.logger.Error("transmit step", "err", err)
		} else if res.RetryAfter > wait {
			wait = res.RetryAfter
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}

// Submit queues a payload and nudges the scheduler.
func (w *Worker) Submit(payload []byte) (uuid.UUID, error) {
	w.mu.Lock()
	id, err := w.s.Submit(payload, time.Now())
	w.mu.Unlock()
	if err == nil {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return id, err
}

// RequestProfile pins the link to a requested ladder rung.
func (w *Worker) RequestProfile(p link.Profile) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.RequestProfile(p)
}

// Cancel removes a queued payload.
func (w *Worker) Cancel(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Cancel(id)
}

// Status snapshots the session.
func (w *Worker) Status() LinkStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.Status()
}

// Reset re-arms a failed link.
func (w *Worker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.s.Reset()
}

// Events exposes the session's reassembled inbound messages.
func (w *Worker) Events() <-chan ReceiveEvent { return w.s.Events() }

// Module returns the module the wrapped session serves.
func (w *Worker) Module() frame.Module { return w.s.Module() }
