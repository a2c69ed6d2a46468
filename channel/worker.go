// Package channel provides the per-channel processing model: PDUs received
// on the network goroutine are queued without blocking and processed one at
// a time, in arrival order, by a single worker goroutine owned by the channel.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/metrics"
	"github.com/cyberinferno/screenary/pdu"
)

// ErrWorkerStopped is returned by Enqueue once Stop has been called.
var ErrWorkerStopped = errors.New("channel: worker stopped")

// ProcessFunc handles one PDU. It is only ever called from the worker
// goroutine, never concurrently with itself.
type ProcessFunc func(p pdu.PDU)

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		w.logger = logger.OrNop(l)
	}
}

// WithMetrics records queue depth and processed PDUs.
func WithMetrics(m *metrics.Worker) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// Worker is an unbounded FIFO of PDUs drained by one goroutine. Enqueue is
// safe from any goroutine and only holds the queue lock long enough to append.
// Stopping is scoped to this worker: it cancels the worker's own context and
// does not affect other channels.
type Worker struct {
	channelID uint16
	process   ProcessFunc
	logger    logger.Logger
	metrics   *metrics.Worker

	mu      sync.Mutex
	queue   []pdu.PDU
	started bool
	stopped bool

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// NewWorker creates a stopped-until-started Worker for channelID.
//
// Parameters:
//   - channelID: The channel whose PDUs the worker processes (used for logs and metrics)
//   - process: Called once per PDU, in FIFO order, on the worker goroutine
//   - opts: Optional logger and metrics
//
// Returns:
//   - A Worker; call Start to begin processing
func NewWorker(channelID uint16, process ProcessFunc, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		channelID: channelID,
		process:   process,
		logger:    logger.NewNopLogger(),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start launches the worker goroutine. Calls after the first, or after Stop,
// do nothing.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}

	w.started = true
	go w.run()
}

// Stop asks the worker to exit. A PDU being processed completes; PDUs still
// queued are abandoned. Stop does not wait, so it is safe to call from the
// worker goroutine itself; use Wait or Done to observe the exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}

	w.stopped = true
	abandoned := len(w.queue)
	w.queue = nil
	started := w.started
	w.mu.Unlock()

	w.cancel()
	w.metrics.Dropped(w.channelID, abandoned)
	w.metrics.QueueDepth(w.channelID, 0)

	if abandoned > 0 {
		w.logger.Debug("worker stopped with pending pdus", logger.Field{Key: "abandoned", Value: abandoned})
	}

	if !started {
		w.closeDone()
	}
}

// Enqueue appends p to the queue and wakes the worker.
//
// Returns:
//   - ErrWorkerStopped if Stop has been called; p is dropped
func (w *Worker) Enqueue(p pdu.PDU) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.metrics.Dropped(w.channelID, 1)
		return ErrWorkerStopped
	}

	w.queue = append(w.queue, p)
	depth := len(w.queue)
	w.mu.Unlock()

	w.metrics.QueueDepth(w.channelID, depth)

	select {
	case w.wake <- struct{}{}:
	default:
	}

	return nil
}

// Len returns the number of queued, unprocessed PDUs.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Done returns a channel closed once the worker goroutine has exited (or
// immediately after Stop for a worker that never started).
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker has exited. It must follow Stop.
func (w *Worker) Wait() {
	<-w.done
}

func (w *Worker) run() {
	defer w.closeDone()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		p, ok := w.next()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-w.wake:
			}
			continue
		}

		w.process(p)
		w.metrics.Processed(w.channelID)
	}
}

// next pops the oldest PDU.
func (w *Worker) next() (pdu.PDU, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		return pdu.PDU{}, false
	}

	p := w.queue[0]
	w.queue[0] = pdu.PDU{}
	w.queue = w.queue[1:]
	w.metrics.QueueDepth(w.channelID, len(w.queue))
	return p, true
}

func (w *Worker) closeDone() {
	w.doneOnce.Do(func() {
		close(w.done)
	})
}
