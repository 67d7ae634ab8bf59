package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/fractionex/internal/domain"
)

// accountHeader carries the acting account on requests without a body.
const accountHeader = "X-Account"

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// classIDParam parses the {id} URL parameter as a share class id.
func classIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, &domain.ValidationError{Message: "share class id must be a positive integer"}
	}
	return id, nil
}

// intQuery parses an optional integer query parameter, returning def when
// it is absent.
func intQuery(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ValidationError{Message: name + " must be an integer"}
	}
	return n, nil
}

// money renders minor units as decimal strings.
type money int32

func (m money) format(v int64) string {
	return domain.FormatAmount(v, int32(m))
}

func (m money) formatPtr(v *int64) *string {
	if v == nil {
		return nil
	}
	s := m.format(*v)
	return &s
}

// nonNil turns a nil slice into an empty one so it encodes as [].
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
