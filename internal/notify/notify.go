package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/metrics"
	"go.uber.org/zap"
)

// Notification is an email request for the buyer. Delivery happens in an
// external worker that consumes the queue.
type Notification struct {
	OrderID string `json:"order_id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ForOrder builds the buyer notification for the order's current status.
func ForOrder(order *domain.Order, email string) Notification {
	return Notification{
		OrderID: order.ID,
		To:      email,
		Subject: fmt.Sprintf("Order %s is %s", order.ID, order.Status),
		Body:    domain.StatusMessage(order.ID, order.Status),
	}
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher hands notifications to a Sender from a fixed pool of workers.
// Notify never blocks: when the buffer is full the notification is dropped.
type Dispatcher struct {
	sender  Sender
	queue   chan Notification
	log     *zap.Logger
	metrics *metrics.Metrics

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewDispatcher(sender Sender, workers, buffer int, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		sender:  sender,
		queue:   make(chan Notification, buffer),
		log:     log,
		metrics: m,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) Notify(n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.Notification("dropped")
		return
	}

	select {
	case d.queue <- n:
	default:
		d.metrics.Notification("dropped")
		d.log.Warn("notification queue full, dropping",
			zap.String("order_id", n.OrderID),
			zap.String("subject", n.Subject))
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		if err := d.sender.Send(context.Background(), n); err != nil {
			d.metrics.Notification("failed")
			d.log.Error("failed to send notification",
				zap.String("order_id", n.OrderID),
				zap.Error(err))
			continue
		}
		d.metrics.Notification("sent")
	}
}

// Close stops accepting notifications and waits for the queued ones to be
// sent, or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender only logs notifications. Used when no broker is configured.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, n Notification) error {
	s.Log.Info("notification",
		zap.String("order_id", n.OrderID),
		zap.String("to", n.To),
		zap.String("subject", n.Subject))
	return nil
}
