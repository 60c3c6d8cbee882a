// Package dispatch fans completed instrument messages out to the configured
// sinks. Each sink gets its own bounded queue and worker so a slow or failing
// sink never blocks a protocol session or a sibling sink.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/labgate/errors"
	"github.com/c360/labgate/message"
	"github.com/c360/labgate/pkg/buffer"
)

// Sink consumes completed messages. Deliver may block on I/O and retries;
// the dispatcher calls it from a dedicated worker goroutine per sink.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg *message.Message) error
}

// DefaultQueueSize bounds each sink's backlog.
const DefaultQueueSize = 256

// Dispatcher routes messages to sinks.
type Dispatcher struct {
	logger    *slog.Logger
	queueSize int
	workers   []*sinkWorker

	shutdown chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type sinkWorker struct {
	sink  Sink
	queue *buffer.Queue[*message.Message]
}

// New creates a dispatcher over the given sinks.
func New(logger *slog.Logger, queueSize int, sinks ...Sink) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		logger:    logger,
		queueSize: queueSize,
		shutdown:  make(chan struct{}),
	}
	for _, s := range sinks {
		s := s
		q, err := buffer.NewQueue(queueSize, buffer.WithDropCallback(func(m *message.Message) {
			d.dropped.Add(1)
			logger.Warn("message dropped from full sink queue",
				"sink", s.Name(), "message_id", m.ID)
		}))
		if err != nil {
			return nil, errors.WrapInvalid(err, "Dispatcher", "New", "create sink queue")
		}
		d.workers = append(d.workers, &sinkWorker{sink: s, queue: q})
	}
	return d, nil
}

// Start launches one worker per sink.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Dispatcher", "Start", "check running state")
	}
	for _, w := range d.workers {
		d.wg.Add(1)
		go d.run(ctx, w)
	}
	return nil
}

// Submit enqueues a message for every sink. It never blocks; when a sink's
// queue is full its oldest backlog entry is shed.
func (d *Dispatcher) Submit(msg *message.Message) {
	for _, w := range d.workers {
		if err := w.queue.Write(msg); err != nil {
			d.dropped.Add(1)
			d.logger.Warn("submit after shutdown", "sink", w.sink.Name(), "message_id", msg.ID)
		}
	}
}

// Sinks returns the number of configured sinks.
func (d *Dispatcher) Sinks() int { return len(d.workers) }

// Stats returns delivered, failed, and dropped counts.
func (d *Dispatcher) Stats() (delivered, failed, dropped int64) {
	return d.delivered.Load(), d.failed.Load(), d.dropped.Load()
}

// Stop drains the queues for at most timeout, then shuts the workers down.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for _, w := range d.workers {
		for w.queue.Size() > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		w.queue.Close()
	}
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(time.Until(deadline) + time.Second):
		return errors.WrapTransient(errors.ErrShuttingDown, "Dispatcher", "Stop", "await workers")
	}
}

func (d *Dispatcher) run(ctx context.Context, w *sinkWorker) {
	defer d.wg.Done()
	for {
		for {
			msg, ok := w.queue.Read()
			if !ok {
				break
			}
			d.deliver(ctx, w, msg)
		}
		select {
		case <-w.queue.Notify():
		case <-d.shutdown:
			// Final drain so messages accepted before shutdown still land.
			for {
				msg, ok := w.queue.Read()
				if !ok {
					return
				}
				d.deliver(ctx, w, msg)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, w *sinkWorker, msg *message.Message) {
	if err := w.sink.Deliver(ctx, msg); err != nil {
		d.failed.Add(1)
		d.logger.Error("sink delivery failed",
			"sink", w.sink.Name(), "message_id", msg.ID, "error", err)
		return
	}
	d.delivered.Add(1)
	d.logger.Debug("message delivered",
		"sink", w.sink.Name(), "message_id", msg.ID)
}
