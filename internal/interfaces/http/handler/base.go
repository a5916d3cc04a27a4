package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appdelivery "github.com/storefront/backend/internal/application/delivery"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// BindJSON binds the body or writes a 400 and returns false
func (h *BaseHandler) BindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// ParamUUID parses a uuid path parameter or writes a 400 and returns false
func (h *BaseHandler) ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name+": must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// HandleError converts application and domain errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := middleware.GetRequestID(c)

	var mappingErr *appdelivery.MappingValidationError
	if errors.As(err, &mappingErr) {
		c.JSON(http.StatusBadRequest, dto.NewMappingErrorResponse(mappingErr.Code(), requestID, mappingErr.Result))
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		// the wrapped message carries the offending value
		c.JSON(dto.GetHTTPStatus(domainErr.Code), dto.NewErrorResponseWithRequestID(domainErr.Code, err.Error(), requestID))
		return
	}

	logger.For(c.Request.Context(), logger.GetGinLogger(c)).Error("Unhandled request error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal,
		"An unexpected error occurred",
		requestID,
	))
}
