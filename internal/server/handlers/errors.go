package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
)

type errorBody struct {
	Kind      errs.Kind `json:"kind"`
	Message   string    `json:"message"`
	Requested int       `json:"requested,omitempty"`
	Available *int      `json:"available,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindConstraintViolation, errs.KindInsufficientUnallocated,
		errs.KindInsufficientBirds, errs.KindCapacityExceeded:
		return http.StatusUnprocessableEntity
	case errs.KindConcurrencyConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the typed error with the figures involved. Untyped and
// internal errors are logged and reported without details.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var typed *errs.Error
	if !errors.As(err, &typed) {
		typed = errs.Internal(err, "internal error")
	}

	status := statusFor(typed.Kind)
	body := errorBody{Kind: typed.Kind, Message: typed.Message, Requested: typed.Requested, Limit: typed.Limit}
	switch typed.Kind {
	case errs.KindInsufficientUnallocated, errs.KindInsufficientBirds, errs.KindCapacityExceeded:
		available := typed.Available
		body.Available = &available
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	if typed.Kind == errs.KindConcurrencyConflict {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, gin.H{"error": body})
}

func invalidBody(c *gin.Context, logger *zap.Logger, err error) {
	logger.Warn("invalid request body", zap.Error(err), zap.String("path", c.FullPath()))
	respondError(c, logger, errs.InvalidInput("invalid request body: %v", err))
}
