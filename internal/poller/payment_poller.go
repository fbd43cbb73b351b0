package poller

import (
	"context"
	"time"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"go.uber.org/zap"
)

const batchSize = 50

type PendingPayments interface {
	ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]*domain.PaymentAttempt, error)
}

type PaymentSyncer interface {
	SyncPayment(ctx context.Context, paymentID string) error
}

// PaymentPoller catches up on payments whose gateway notification never
// arrived. Only attempts at least one interval old are checked, leaving fresh
// ones to the webhook.
type PaymentPoller struct {
	interval time.Duration
	repo     PendingPayments
	syncer   PaymentSyncer
	log      *zap.Logger
	now      func() time.Time
}

func NewPaymentPoller(repo PendingPayments, syncer PaymentSyncer, interval time.Duration, log *zap.Logger) *PaymentPoller {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentPoller{
		interval: interval,
		repo:     repo,
		syncer:   syncer,
		log:      log.Named("payment_poller"),
		now:      time.Now,
	}
}

// Run polls until ctx is done. A zero interval disables polling.
func (p *PaymentPoller) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.log.Info("payment polling disabled")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *PaymentPoller) poll(ctx context.Context) {
	attempts, err := p.repo.ListPendingPayments(ctx, p.now().Add(-p.interval), batchSize)
	if err != nil {
		p.log.Error("failed to list pending payments", zap.Error(err))
		return
	}

	for _, a := range attempts {
		if ctx.Err() != nil {
			return
		}
		if err := p.syncer.SyncPayment(ctx, a.PaymentID); err != nil {
			p.log.Warn("failed to sync payment",
				zap.String("order_id", a.OrderID),
				zap.String("payment_id", a.PaymentID),
				zap.Error(err))
		}
	}
}
