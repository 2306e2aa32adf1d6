// Package responder writes the JSON envelope used by the ops endpoints.
package responder

import (
	"net/http"

	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/http/middleware"
	"github.com/leeforge/imageresize/json"
)

type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
	Meta  Meta   `json:"meta"`
}

type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Meta struct {
	TraceId string `json:"traceId,omitempty"`
	Took    int64  `json:"took,omitempty"`
}

func metaFor(r *http.Request) Meta {
	if r == nil {
		return Meta{}
	}
	return Meta{
		TraceId: middleware.GetTraceID(r.Context()),
		Took:    middleware.GetRequestDuration(r.Context()),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"encode failed"}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// Write sends data with status inside the standard envelope.
func Write(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, &Response{Data: data, Meta: metaFor(r)})
}

func OK(w http.ResponseWriter, r *http.Request, data any) {
	Write(w, r, http.StatusOK, data)
}

// WriteError sends err with the HTTP status matching its AppError type.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	app := apperrors.FromError(err)
	if app == nil {
		app = apperrors.NewInternal("unknown error")
	}
	writeJSON(w, StatusFor(app), &Response{
		Error: &Error{Code: app.Code, Message: app.Error(), Details: app.Details},
		Meta:  metaFor(r),
	})
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, apperrors.NewNotFound("route", r.URL.Path))
}

// StatusFor maps an error type to its HTTP status.
func StatusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeInvalid, apperrors.ErrorTypeDecode:
		return http.StatusBadRequest
	case apperrors.ErrorTypeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
