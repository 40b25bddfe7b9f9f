package messaging

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"farmdispatch/internal/domain"
)

// ErrQueueFull is returned when the in-process queue cannot take another task.
var ErrQueueFull = errors.New("notification queue full")

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("notification publisher closed")

// AsyncPublisher runs rider-matched tasks on a background worker in the same process.
// It is used when no broker is configured.
type AsyncPublisher struct {
	handle HandlerFunc
	queue  chan domain.RiderMatchedEvent
	log    logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncPublisher starts a worker that calls handle for every published task.
func NewAsyncPublisher(handle HandlerFunc, queueSize int, log logrus.FieldLogger) *AsyncPublisher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &AsyncPublisher{
		handle: handle,
		queue:  make(chan domain.RiderMatchedEvent, queueSize),
		log:    log,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishRiderMatched enqueues the task without blocking.
func (p *AsyncPublisher) PublishRiderMatched(_ context.Context, evt domain.RiderMatchedEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return nil
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for evt := range p.queue {
		if err := p.handle(context.Background(), evt); err != nil {
			p.log.WithError(err).WithField("order_id", evt.OrderID).Warn("rider matched task failed")
		}
	}
}
