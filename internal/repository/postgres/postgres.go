package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/logger"
	"material-exchange-backend/internal/repository"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// constraintMessages names unique constraints whose violation means more than
// a duplicate row.
var constraintMessages = map[string]string{
	"ux_offers_one_accepted": "rfq already has an accepted offer",
	"orders_offer_id_key":    "offer already has an order",
}

type Store struct {
	db *sql.DB
	repository.Repos
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		Repos: newRepos(db),
	}
}

func newRepos(q DBTX) repository.Repos {
	return repository.Repos{
		RFQs:        NewRFQRepository(q),
		Offers:      NewOfferRepository(q),
		Orders:      NewOrderRepository(q),
		Rentals:     NewRentalRepository(q),
		Catalog:     NewCatalogRepository(q),
		TrustScores: NewTrustScoreRepository(q),
	}
}

func (s *Store) Repositories() repository.Repos { return s.Repos }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) WithTx(ctx context.Context, fn func(repository.Repos) error) error {
	logger.EnterMethod("Store.WithTx")
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.ExitMethodWithError("Store.WithTx", err)
		return apperr.Internal(err, "could not start transaction")
	}
	if err := fn(newRepos(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Rollback failed", "error", rbErr)
		}
		logger.Debug("Transaction rolled back", "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		logger.ExitMethodWithError("Store.WithTx", err)
		return mapError(err, "commit")
	}
	logger.ExitMethod("Store.WithTx")
	return nil
}

// mapError turns driver errors into apperr kinds. what names the entity for
// the caller-facing message.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s not found", what)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			cause := fmt.Errorf("%w: %s", apperr.ErrDuplicate, pqErr.Constraint)
			if msg, ok := constraintMessages[pqErr.Constraint]; ok {
				return apperr.Wrap(apperr.KindConflict, cause, "%s", msg)
			}
			return apperr.Wrap(apperr.KindConflict, cause, "%s already exists", what)
		case serializationFailure, deadlockDetected:
			return apperr.Wrap(apperr.KindConflict, fmt.Errorf("%w: %s", apperr.ErrStaleWrite, pqErr.Code),
				"%s was changed by a concurrent request, try again", what)
		}
	}
	return apperr.Internal(err, "database error on %s", what)
}

// guardedResult converts a zero-row guarded update into a conflict.
func guardedResult(res sql.Result, err error, format string, args ...any) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Wrap(apperr.KindConflict, apperr.ErrNoRowsUpdated, format, args...)
	}
	return nil
}

func toJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Internal(err, "encode json column")
	}
	return b, nil
}

func fromJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return apperr.Internal(err, "decode json column")
	}
	return nil
}

// rowScanner is the common surface of *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
