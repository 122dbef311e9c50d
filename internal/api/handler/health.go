// Package handler contains the HTTP handlers for the public API.
package handler

import (
	"context"
	"net/http"

	"github.com/mcastelli/vidmatch/internal/api/response"
)

// Pinger reports backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// Degraded dependencies are reported per component without failing the check.
func NewHealthHandler(db Pinger, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{
			"service":  "ok",
			"database": "ok",
			"cache":    "ok",
		}
		code := http.StatusOK

		if err := db.Ping(r.Context()); err != nil {
			status["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
		if err := cache.Ping(r.Context()); err != nil {
			// The cache is an optimization; its loss degrades, not breaks.
			status["cache"] = "unreachable"
		}

		if code != http.StatusOK {
			response.Error(w, code, "DEGRADED", "One or more dependencies are unreachable", status)
			return
		}
		response.JSON(w, status)
	}
}
