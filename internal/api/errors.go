// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/ffmpeg"
	"github.com/ManuGH/camcore/internal/fsutil"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/surveillance"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorCode writes {"error": msg} with code.
func writeErrorCode(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var exitErr *ffmpeg.ExitError
	var launchErr *ffmpeg.LaunchError
	switch {
	case errors.Is(err, camera.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, surveillance.ErrAlreadyRunning), errors.Is(err, surveillance.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, fsutil.ErrOutsideRoot):
		return http.StatusBadRequest
	case errors.As(err, &exitErr):
		return http.StatusBadGateway
	case errors.As(err, &launchErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status derived from its type. Server-side
// failures are logged; client errors are not.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger := log.WithContext(r.Context(), log.WithComponent("api"))
		logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", code).Msg("request failed")
	}
	writeErrorCode(w, code, err.Error())
}
