package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"material-exchange-backend/internal/apperr"
)

func TestDo_Conflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("Succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := Do(ctx, 3, time.Millisecond, apperr.IsConflict, func(int) error {
			calls++
			if calls < 3 {
				return apperr.Conflict("taken")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Gives up after attempts", func(t *testing.T) {
		calls := 0
		err := Do(ctx, 3, time.Millisecond, apperr.IsConflict, func(int) error {
			calls++
			return apperr.Conflict("taken")
		})
		assert.True(t, apperr.IsConflict(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("Other errors stop immediately", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := Do(ctx, 3, time.Millisecond, apperr.IsConflict, func(int) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Do(cctx, 3, time.Second, apperr.IsConflict, func(int) error {
			return apperr.Conflict("taken")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDo_CustomPredicate(t *testing.T) {
	stale := errors.New("stale")
	calls := 0
	err := Do(context.Background(), 5, 0, func(err error) bool { return errors.Is(err, stale) }, func(attempt int) error {
		assert.Equal(t, calls, attempt)
		calls++
		if calls == 1 {
			return stale
		}
		return apperr.Conflict("not retried")
	})
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, 2, calls)
}
