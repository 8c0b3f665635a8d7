package jobs

import (
	"context"

	"material-exchange-backend/internal/logger"
)

// FlagOverdueRentals tells both parties about active rentals past their end
// date. Overdue is derived on read, so nothing is written.
func (jr *JobRunner) FlagOverdueRentals() {
	jr.runWithRecovery("FlagOverdueRentals", func(ctx context.Context) error {
		n, err := jr.services.Rentals.FlagOverdue(ctx)
		if err != nil {
			return err
		}
		logger.Info("Flagged overdue rentals", "count", n)
		return nil
	})
}
