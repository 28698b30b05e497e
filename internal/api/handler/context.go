package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/junctionflow/junctionflow/internal/api/middleware"
	"github.com/junctionflow/junctionflow/internal/api/models"
)

// List limits shared by the log endpoints.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// GetOperator retrieves the authenticated operator from the context.
// This is a convenience wrapper around middleware.GetOperator.
func GetOperator(ctx context.Context) string {
	return middleware.GetOperator(ctx)
}

// Clock returns the current time. Handlers take one so tests can pin it.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// queryInt reads an optional integer query parameter. A value that is
// malformed or outside [lo, hi] yields a field error.
func queryInt(r *http.Request, name string, def, lo, hi int) (int, *models.FieldError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, &models.FieldError{
			Field:   name,
			Message: name + " must be an integer between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi),
			Code:    "OUT_OF_RANGE",
		}
	}
	return v, nil
}
