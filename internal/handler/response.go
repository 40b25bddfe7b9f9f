package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farmdispatch/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error  string         `json:"error"`
	Reason service.Reason `json:"reason"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	reason := service.ReasonFor(err)
	code := statusForReason(reason)

	msg := err.Error()
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(code, ErrorResponse{Error: msg, Reason: reason})
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Reason: service.ReasonInvalidRequest})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// statusForReason maps rejection codes to HTTP status codes.
func statusForReason(reason service.Reason) int {
	switch reason {
	case service.ReasonInvalidRequest:
		return http.StatusBadRequest
	case service.ReasonNotFound:
		return http.StatusNotFound
	case service.ReasonUnauthorized:
		return http.StatusForbidden
	case service.ReasonAlreadyResponded, service.ReasonAlreadyMatched, service.ReasonTripUnavailable:
		return http.StatusConflict
	case service.ReasonExpired:
		return http.StatusGone
	case service.ReasonUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
