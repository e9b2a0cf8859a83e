package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/reseller/internal/core/domain"
	"github.com/rl1809/reseller/internal/port"
)

const dispatchTimeout = 5 * time.Second

// Dispatcher fans post-commit events out to the stock cache and the event
// bus. Both sinks are best effort; the database stays authoritative.
type Dispatcher struct {
	cache     port.CacheRepository
	publisher port.EventPublisher
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.Event
	wg     sync.WaitGroup
}

func NewDispatcher(cache port.CacheRepository, publisher port.EventPublisher, queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		queue:     make(chan domain.Event, queueSize),
	}
}

// Enqueue never blocks; a full or closed queue drops the event.
func (d *Dispatcher) Enqueue(ev domain.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Warn("dispatch queue full, event dropped", "subject", ev.Subject, "product_id", ev.ProductID)
		return false
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.logger.Info("dispatcher started", "workers", workers)
}

// Close stops accepting events and waits for the workers to drain the queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(id int) {
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		d.handle(ctx, id, ev)
		cancel()
	}
}

func (d *Dispatcher) handle(ctx context.Context, id int, ev domain.Event) {
	if ev.Stock != nil && d.cache != nil {
		if err := d.cache.SetStock(ctx, ev.ProductID, *ev.Stock); err != nil {
			d.logger.Warn("stock cache update failed", "worker", id, "product_id", ev.ProductID, "error", err)
		}
	}

	if ev.Subject == "" || d.publisher == nil {
		return
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		d.logger.Error("encode event", "worker", id, "subject", ev.Subject, "error", err)
		return
	}
	if err := d.publisher.Publish(ctx, ev.Subject, data); err != nil {
		d.logger.Warn("publish event failed", "worker", id, "subject", ev.Subject, "error", err)
		return
	}
	d.logger.Debug("event published", "worker", id, "subject", ev.Subject)
}
