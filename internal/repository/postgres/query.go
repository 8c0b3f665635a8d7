package postgres

import (
	"context"
	"strings"

	"github.com/Masterminds/squirrel"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/repository"
)

// listSpec is the allow-list for one list endpoint: API field name to column.
type listSpec struct {
	filters     map[string]string
	sorts       map[string]string
	defaultSort string
}

var (
	rfqListSpec = listSpec{
		filters: map[string]string{
			"status":     "r.status",
			"buyer_id":   "r.buyer_id",
			"project_id": "r.project_id",
			"created_at": "r.created_at",
			"expires_at": "r.expires_at",
		},
		sorts: map[string]string{
			"created_at": "r.created_at",
			"updated_at": "r.updated_at",
			"expires_at": "r.expires_at",
		},
		defaultSort: "r.created_at",
	}
	offerListSpec = listSpec{
		filters: map[string]string{
			"status":     "status",
			"rfq_id":     "rfq_id",
			"created_at": "created_at",
			"expires_at": "expires_at",
		},
		sorts: map[string]string{
			"created_at":   "created_at",
			"updated_at":   "updated_at",
			"expires_at":   "expires_at",
			"total_amount": "total_amount",
		},
		defaultSort: "created_at",
	}
	orderListSpec = listSpec{
		filters: map[string]string{
			"status":      "status",
			"supplier_id": "supplier_id",
			"buyer_id":    "buyer_id",
			"project_id":  "project_id",
			"mode":        "mode",
			"created_at":  "created_at",
			"updated_at":  "updated_at",
			"grand_total": "grand_total",
		},
		sorts: map[string]string{
			"created_at":  "created_at",
			"updated_at":  "updated_at",
			"grand_total": "grand_total",
		},
		defaultSort: "created_at",
	}
	rentalListSpec = listSpec{
		filters: map[string]string{
			"status":      "status",
			"supplier_id": "supplier_id",
			"buyer_id":    "buyer_id",
			"created_at":  "created_at",
			"end_date":    "end_date",
		},
		sorts: map[string]string{
			"created_at": "created_at",
			"updated_at": "updated_at",
			"start_date": "start_date",
			"end_date":   "end_date",
		},
		defaultSort: "created_at",
	}
)

// where translates filters into predicates. A key is either a bare field
// (equality) or field.gte / field.lte for ranges.
func (s listSpec) where(f repository.ListFilter) (squirrel.And, error) {
	preds := squirrel.And{}
	for key, val := range f.Filters {
		field, op := key, ""
		if i := strings.LastIndexByte(key, '.'); i > 0 {
			field, op = key[:i], key[i+1:]
		}
		col, ok := s.filters[field]
		if !ok {
			return nil, apperr.Validation("filtering by %q is not supported", field)
		}
		switch op {
		case "":
			preds = append(preds, squirrel.Eq{col: val})
		case "gte":
			preds = append(preds, squirrel.GtOrEq{col: val})
		case "lte":
			preds = append(preds, squirrel.LtOrEq{col: val})
		default:
			return nil, apperr.Validation("unsupported filter operator %q", op)
		}
	}
	return preds, nil
}

func (s listSpec) orderBy(f repository.ListFilter) (string, error) {
	col := s.defaultSort
	if f.SortBy != "" {
		c, ok := s.sorts[f.SortBy]
		if !ok {
			return "", apperr.Validation("sorting by %q is not supported", f.SortBy)
		}
		col = c
	}
	dir := "ASC"
	if f.SortDesc || f.SortBy == "" {
		dir = "DESC"
	}
	return col + " " + dir, nil
}

// paged runs a filtered, sorted, paged select plus a matching count. scan is
// called once per row.
func paged(ctx context.Context, q DBTX, base, count squirrel.SelectBuilder, spec listSpec, f repository.ListFilter, what string, scan func(rowScanner) error) (int, error) {
	f = f.Normalize()
	preds, err := spec.where(f)
	if err != nil {
		return 0, err
	}
	order, err := spec.orderBy(f)
	if err != nil {
		return 0, err
	}
	if len(preds) > 0 {
		base = base.Where(preds)
		count = count.Where(preds)
	}

	countSQL, countArgs, err := count.ToSql()
	if err != nil {
		return 0, apperr.Internal(err, "build count query")
	}
	var total int
	if err := q.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return 0, mapError(err, what)
	}

	query, args, err := base.
		OrderBy(order).
		Limit(uint64(f.PageSize)).
		Offset(uint64((f.Page - 1) * f.PageSize)).
		ToSql()
	if err != nil {
		return 0, apperr.Internal(err, "build list query")
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, what)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return 0, mapError(err, what)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, mapError(err, what)
	}
	return total, nil
}
