// README: Asynchronous fire-and-forget delivery of events to slow sinks.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hometaste/internal/apperr"
)

const deliverTimeout = 5 * time.Second

// Dispatcher queues events and hands them to the sink from worker goroutines. Publish never
// blocks: when the buffer is full the event is dropped with a warning.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	workers int
	log     logrus.FieldLogger
	dropped atomic.Int64
}

func NewDispatcher(sink Sink, buffer, workers int, log logrus.FieldLogger) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{sink: sink, queue: make(chan Event, buffer), workers: workers, log: log}
}

func (d *Dispatcher) Publish(_ context.Context, e Event) error {
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		d.log.WithFields(logrus.Fields{
			"kind":     apperr.KindUpstreamUnavailable,
			"event":    e.Kind,
			"order_id": e.OrderID,
		}).Warn("event buffer full, dropping event")
	}
	return nil
}

// Dropped returns how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers events until ctx is cancelled, then drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e := <-d.queue:
					d.deliver(e)
				}
			}
		}()
	}
	wg.Wait()
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		default:
			return nil
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := d.sink.Publish(ctx, e); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"kind":     apperr.KindUpstreamUnavailable,
			"event":    e.Kind,
			"order_id": e.OrderID,
		}).Warn("event delivery failed")
	}
}
