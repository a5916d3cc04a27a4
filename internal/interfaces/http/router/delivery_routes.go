package router

import (
	"github.com/gin-gonic/gin"

	"github.com/storefront/backend/internal/interfaces/http/handler"
)

// NewDeliveryRoutes maps the delivery endpoints onto h. sendMiddleware runs
// only on the send route, e.g. a tighter rate limit.
func NewDeliveryRoutes(h *handler.DeliveryHandler, sendMiddleware ...gin.HandlerFunc) *DomainGroup {
	send := append(append([]gin.HandlerFunc{}, sendMiddleware...), h.Send)

	return NewDomainGroup("delivery", "/delivery").
		POST("/send", send...).
		POST("/validate-field-mappings", h.ValidateFieldMappings).
		POST("/preview-mapping", h.PreviewMapping).
		PUT("/companies/:id/field-mappings", h.UpdateFieldMappings).
		PUT("/companies/:id/credentials", h.UpdateCredentials).
		POST("/companies/:id/quote", h.QuoteFee).
		GET("/orders", h.ListOrders).
		PUT("/orders/:id/status", h.UpdateStatus).
		POST("/orders/:id/cancel", h.Cancel)
}
