package jobs

import (
	"context"
	"time"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
)

// PaymentGateway charges an order before fulfillment starts. A returned error
// leaves the order pending so the job can retry against the provider.
type PaymentGateway interface {
	Charge(ctx context.Context, order *models.Order) error
}

// SimulatedGateway approves every charge after an artificial provider delay.
// It stands in until a real payment provider is integrated.
type SimulatedGateway struct {
	Delay time.Duration
}

func (g SimulatedGateway) Charge(ctx context.Context, _ *models.Order) error {
	if g.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(g.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
