// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across endpoints:
// the structured error envelope and the mapping from the service-layer error
// taxonomy onto HTTP statuses. Every error response carries a stable `error`
// kind so clients can branch programmatically.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "error": "PriceDrift",
//	  "message": "server quote 13.00 drifted from quoted total 12.00",
//	  "details": {"drift": 1, "server_total_usd": 13},
//	  "status": 409
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/winstonhq/go-domain-gateway/internal/http/middleware"
	"github.com/winstonhq/go-domain-gateway/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors.
	RequestID string `json:"request_id,omitempty"`
	// Stable, machine-readable error kind (see services error taxonomy).
	Error string `json:"error"`
	// Human-readable message, safe to show to users.
	Message string `json:"message"`
	// Optional structured context (remaining budget, drift, sample reasons).
	Details map[string]any `json:"details,omitempty"`
	// HTTP status, duplicated in the body for clients that drop headers.
	Status int `json:"status"`
}

// kindStatus maps service error kinds onto HTTP statuses.
var kindStatus = map[string]int{
	services.KindValidation:             http.StatusBadRequest,
	services.KindUnsafeLabel:            http.StatusBadRequest,
	services.KindNonASCIINotAllowed:     http.StatusBadRequest,
	services.KindUnicodeMustUsePunycode: http.StatusBadRequest,
	services.KindPremiumNotAllowed:      http.StatusBadRequest,
	services.KindSpendCapExceeded:       http.StatusBadRequest,
	services.KindDailyCapExceeded:       http.StatusBadRequest,
	services.KindUnknownDNSTemplate:     http.StatusBadRequest,
	services.KindNameserversRequired:    http.StatusBadRequest,
	services.KindUnauthorized:           http.StatusUnauthorized,
	services.KindNotFound:               http.StatusNotFound,
	services.KindIdempotencyMismatch:    http.StatusConflict,
	services.KindPriceDrift:             http.StatusConflict,
	services.KindRateLimited:            http.StatusTooManyRequests,
	services.KindInternal:               http.StatusInternalServerError,
}

// failErr writes the envelope for a service error and aborts the request.
// 5xx responses are logged with request context.
func failErr(c *gin.Context, err error) {
	se := services.AsError(err)
	status, ok := kindStatus[se.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	write(c, status, se.Kind, se.Message, se.Details)
}

// fail writes an envelope from explicit parts and aborts the request.
func fail(c *gin.Context, status int, kind, msg string) {
	write(c, status, kind, msg, nil)
}

// Fail is the exported variant of fail, used by router fallbacks.
func Fail(c *gin.Context, status int, kind, msg string) { fail(c, status, kind, msg) }

func write(c *gin.Context, status int, kind, msg string, details map[string]any) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Error:     kind,
		Message:   msg,
		Details:   details,
		Status:    status,
	}
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("error", kind).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
