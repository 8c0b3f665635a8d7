package service

import (
	"context"
	"strings"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/repository"
)

// GroupAccess lets parties of an order or booking subscribe to its realtime
// group.
type GroupAccess struct {
	store repository.Store
}

func NewGroupAccess(store repository.Store) *GroupAccess {
	return &GroupAccess{store: store}
}

func (g *GroupAccess) AuthorizeGroup(ctx context.Context, actor domain.Actor, group string) error {
	r := g.store.Repositories()
	switch {
	case strings.HasPrefix(group, "order:"):
		o, err := r.Orders.GetByNumber(ctx, strings.TrimPrefix(group, "order:"))
		if err != nil {
			return hideMissing(err, group)
		}
		if _, ok := o.RoleOf(actor); !ok {
			return apperr.Forbidden("not a party to %s", group)
		}
		return nil
	case strings.HasPrefix(group, "rental:"):
		b, err := r.Rentals.GetByNumber(ctx, strings.TrimPrefix(group, "rental:"))
		if err != nil {
			return hideMissing(err, group)
		}
		if _, ok := b.RoleOf(actor); !ok {
			return apperr.Forbidden("not a party to %s", group)
		}
		return nil
	}
	return apperr.Forbidden("group %s cannot be joined", group)
}

// hideMissing reports unknown numbers the same way as foreign ones so group
// names cannot be probed.
func hideMissing(err error, group string) error {
	if apperr.IsNotFound(err) {
		return apperr.Forbidden("not a party to %s", group)
	}
	return err
}
