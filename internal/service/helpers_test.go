package service_test

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/service"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

var (
	buyer     = domain.Actor{UserID: 7, Role: domain.RoleBuyer}
	supplierA = domain.Actor{UserID: 21, Role: domain.RoleSupplier}
	supplierB = domain.Actor{UserID: 22, Role: domain.RoleSupplier}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newDeps(store *mockStore, pub *recordingPublisher) service.Deps {
	return service.Deps{
		Store:     store,
		Publisher: pub,
		Now:       func() time.Time { return testNow },
		Settings: service.Settings{
			TaxRate:           dec("0.10"),
			LateReturnPenalty: dec("25"),
		},
	}
}

// duplicateOn is what the postgres layer returns for a unique violation.
func duplicateOn(constraint string) error {
	return apperr.Wrap(apperr.KindConflict, fmt.Errorf("%w: %s", apperr.ErrDuplicate, constraint), "record already exists")
}

func window(startHours, endHours int) domain.Window {
	return domain.Window{
		Start: testNow.Add(time.Duration(startHours) * time.Hour),
		End:   testNow.Add(time.Duration(endHours) * time.Hour),
	}
}
