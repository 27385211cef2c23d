package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/logging"
	"github.com/triage-review-server/internal/middleware"
)

// respondError maps a service error onto the APIError envelope and status code.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.CorrelationKey)

	var (
		validation *domain.ValidationError
		submission *domain.SubmissionFailedError
		sealed     *domain.AlreadySealedError
		notFound   *domain.NotFoundError
	)

	switch {
	case errors.As(err, &validation):
		apiErr := domain.NewAPIError(domain.ErrCodeValidation, validation.Message, "", requestID)
		apiErr.Fields = validation.Fields
		c.JSON(http.StatusBadRequest, apiErr)
	case errors.As(err, &submission):
		payload := submission.Payload
		apiErr := domain.NewAPIError(domain.ErrCodeSubmissionFailed, "intake could not be stored, retry with the returned payload", "", requestID)
		apiErr.Payload = &payload
		s.logError(c, err, http.StatusServiceUnavailable)
		c.JSON(http.StatusServiceUnavailable, apiErr)
	case errors.As(err, &sealed):
		c.JSON(http.StatusConflict, domain.NewAPIError(domain.ErrCodeAlreadySealed, sealed.Error(), "", requestID))
	case errors.Is(err, domain.ErrTaskClosed):
		c.JSON(http.StatusConflict, domain.NewAPIError(domain.ErrCodeTaskClosed, err.Error(), "", requestID))
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, domain.NewAPIError(domain.ErrCodeNotFound, notFound.Error(), "", requestID))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, domain.NewAPIError(domain.ErrCodeNotFound, err.Error(), "", requestID))
	case errors.Is(err, context.DeadlineExceeded):
		s.logError(c, err, http.StatusGatewayTimeout)
		c.JSON(http.StatusGatewayTimeout, domain.NewAPIError(domain.ErrCodeTimeout, "request timed out", "", requestID))
	default:
		s.logError(c, err, http.StatusInternalServerError)
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(domain.ErrCodeInternalServer, "internal server error", "", requestID))
	}
}

// respondInvalidInput reports a request body that could not be decoded.
func (s *Server) respondInvalidInput(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, domain.NewAPIError(
		domain.ErrCodeInvalidInput, "malformed request body", err.Error(), c.GetString(middleware.CorrelationKey),
	))
}

func (s *Server) logError(c *gin.Context, err error, status int) {
	logging.FromContext(c.Request.Context(), s.logger).WithError(err).WithFields(map[string]any{
		"method": c.Request.Method,
		"path":   c.FullPath(),
		"status": status,
	}).Error("Request failed")
}
