package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/retry"
)

const (
	orderNumberPrefix   = "ORD"
	bookingNumberPrefix = "RB"
	numberSuffixLen     = 6
)

// newNumber builds PREFIX-YYYYMMDD-XXXXXX with a random upper-case suffix.
func newNumber(prefix string, at time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + at.UTC().Format("20060102") + "-" + id[:numberSuffixLen]
}

// isNumberCollision matches the unique violation on order_number or
// booking_number. Other conflicts are real and must not be retried.
func isNumberCollision(err error) bool {
	return errors.Is(err, apperr.ErrDuplicate) && strings.Contains(err.Error(), "_number")
}

// withNumber runs fn with a fresh number until it stops colliding. fn must
// open its own transaction since a failed insert aborts the surrounding one.
func (b *base) withNumber(ctx context.Context, prefix string, fn func(number string) error) error {
	err := retry.Do(ctx, b.settings.NumberRetryAttempts, b.settings.NumberRetryBaseDelay, isNumberCollision, func(attempt int) error {
		number := newNumber(prefix, b.now())
		if attempt > 0 {
			logger.Debug("Regenerating number after collision", "prefix", prefix, "attempt", attempt+1)
		}
		return fn(number)
	})
	if isNumberCollision(err) {
		return apperr.Wrap(apperr.KindConflict, err, "could not allocate a unique %s number, try again", prefix)
	}
	return err
}
