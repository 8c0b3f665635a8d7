package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"material-exchange-backend/internal/apperr"
	"material-exchange-backend/internal/domain"
	"material-exchange-backend/internal/repository"
)

const maxBodyBytes = 1 << 20

// decoder reads request bodies and checks their struct tags.
type decoder struct {
	validate *validator.Validate
}

func newDecoder() *decoder {
	return &decoder{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// decode reads a JSON body into dst. An empty body is allowed when the
// target has no required fields.
func (d *decoder) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("malformed request body: %v", err)
	}
	if err := d.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return apperr.Validation("invalid request: %s", strings.Join(msgs, "; "))
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid id %q", raw)
	}
	return id, nil
}

var pagingKeys = map[string]bool{"page": true, "page_size": true, "sort_by": true, "sort_desc": true}

// listFilter builds a repository filter from query parameters. Every key
// other than the paging ones is passed through as a field filter; the
// repository rejects fields outside its allow-list.
func listFilter(r *http.Request) (repository.ListFilter, error) {
	q := r.URL.Query()
	f := repository.ListFilter{Filters: map[string]string{}}
	var err error
	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			return f, apperr.Validation("page must be a number")
		}
	}
	if v := q.Get("page_size"); v != "" {
		if f.PageSize, err = strconv.Atoi(v); err != nil {
			return f, apperr.Validation("page_size must be a number")
		}
	}
	f.SortBy = q.Get("sort_by")
	if v := q.Get("sort_desc"); v != "" {
		if f.SortDesc, err = strconv.ParseBool(v); err != nil {
			return f, apperr.Validation("sort_desc must be true or false")
		}
	}
	for k, vs := range q {
		if pagingKeys[k] || len(vs) == 0 {
			continue
		}
		f.Filters[k] = vs[0]
	}
	return f.Normalize(), nil
}

// windowDTO is a time range on the wire.
type windowDTO struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtfield=Start"`
}

func (w *windowDTO) toDomain() *domain.Window {
	if w == nil {
		return nil
	}
	return &domain.Window{Start: w.Start, End: w.End}
}
