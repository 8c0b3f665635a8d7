package jobs

import (
	"context"

	"material-exchange-backend/internal/logger"
)

// AutoCompleteOrders completes delivered orders the buyer neither confirmed
// nor disputed within the confirmation window.
func (jr *JobRunner) AutoCompleteOrders() {
	jr.runWithRecovery("AutoCompleteOrders", func(ctx context.Context) error {
		n, err := jr.services.Orders.AutoCompleteDue(ctx, autoCompleteBatchSize)
		if err != nil {
			return err
		}
		logger.Info("Auto-completed orders", "count", n)
		return nil
	})
}

// ExpireOffers expires pending offers and active RFQs past their expiry.
func (jr *JobRunner) ExpireOffers() {
	jr.runWithRecovery("ExpireOffers", func(ctx context.Context) error {
		offers, err := jr.services.Offers.ExpireStale(ctx)
		if err != nil {
			return err
		}
		rfqs, err := jr.services.RFQs.ExpireStale(ctx)
		if err != nil {
			return err
		}
		logger.Info("Expired stale offers and RFQs", "offers", offers, "rfqs", rfqs)
		return nil
	})
}
