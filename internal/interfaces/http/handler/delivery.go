package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appdelivery "github.com/storefront/backend/internal/application/delivery"
	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
)

// DeliveryService is the application surface used by DeliveryHandler
type DeliveryService interface {
	Dispatch(ctx context.Context, cmd appdelivery.DispatchCommand) (*appdelivery.DispatchResult, error)
	ValidateFieldMappings(ctx context.Context, orderID string, companyID uuid.UUID) (*delivery.MappingValidationResult, error)
	PreviewMapping(ctx context.Context, cmd appdelivery.PreviewCommand) (*appdelivery.PreviewResult, error)
	UpdateFieldMappings(ctx context.Context, companyID uuid.UUID, cmd appdelivery.UpdateFieldMappingsCommand) (*appdelivery.CompanyMappingResponse, error)
	UpdateCredentials(ctx context.Context, companyID uuid.UUID, update delivery.CredentialUpdate) (*appdelivery.CompanyMappingResponse, error)
	GetDeliveryOrder(ctx context.Context, orderID string, companyID uuid.UUID) (*appdelivery.DeliveryOrderResponse, error)
	ListDeliveryOrders(ctx context.Context, orderID string) ([]appdelivery.DeliveryOrderResponse, error)
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status delivery.DeliveryStatus, externalStatus string) (*appdelivery.DeliveryOrderResponse, error)
	CancelDelivery(ctx context.Context, id uuid.UUID) (*appdelivery.DeliveryOrderResponse, error)
	QuoteDeliveryFee(ctx context.Context, companyID uuid.UUID, cmd appdelivery.QuoteCommand) (*appdelivery.QuoteResult, error)
}

// Ensure DispatchService implements DeliveryService
var _ DeliveryService = (*appdelivery.DispatchService)(nil)

// DeliveryHandler handles delivery dispatch endpoints
type DeliveryHandler struct {
	BaseHandler
	service DeliveryService
}

// NewDeliveryHandler creates a new DeliveryHandler
func NewDeliveryHandler(service DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{service: service}
}

// Send dispatches an order to a carrier.
//
//	200 carrier accepted
//	400 mapping invalid or carrier misconfigured
//	409 same pair in flight, or already sent without isResend
//	502 carrier did not accept; the attempt is recorded and returned
//	504 the request ended first; the attempt continues and is recorded
//
// POST /api/v1/delivery/send
func (h *DeliveryHandler) Send(c *gin.Context) {
	var req dto.SendDeliveryRequest
	if !h.BindJSON(c, &req) {
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		h.BadRequest(c, "Invalid companyId")
		return
	}

	result, err := h.service.Dispatch(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	data := dto.NewSendDeliveryResponse(result)
	if !result.Success {
		c.JSON(http.StatusBadGateway, dto.SendDeliveryFailure{
			Success: false,
			Error: &dto.ErrorInfo{
				Code:      dto.ErrCodeCarrierFailed,
				Message:   carrierFailureMessage(result.Attempt),
				RequestID: middleware.GetRequestID(c),
			},
			Data: data,
		})
		return
	}
	h.Success(c, data)
}

func carrierFailureMessage(a appdelivery.AttemptSummary) string {
	if a.ErrorMessage != "" {
		return "Carrier did not accept the order: " + a.ErrorMessage
	}
	return "Carrier did not accept the order"
}

// ValidateFieldMappings reports whether the order would pass mapping validation.
// POST /api/v1/delivery/validate-field-mappings
func (h *DeliveryHandler) ValidateFieldMappings(c *gin.Context) {
	var req dto.OrderCompanyRequest
	if !h.BindJSON(c, &req) {
		return
	}
	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		h.BadRequest(c, "Invalid companyId")
		return
	}

	result, err := h.service.ValidateFieldMappings(c.Request.Context(), req.OrderID, companyID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// UpdateFieldMappings replaces a carrier's field mappings and custom fields.
// PUT /api/v1/delivery/companies/:id/field-mappings
func (h *DeliveryHandler) UpdateFieldMappings(c *gin.Context) {
	companyID, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateFieldMappingsRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.UpdateFieldMappings(c.Request.Context(), companyID, req.ToCommand())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// PreviewMapping shows the payload and validation for a mapping without sending.
// POST /api/v1/delivery/preview-mapping
func (h *DeliveryHandler) PreviewMapping(c *gin.Context) {
	var req dto.PreviewMappingRequest
	if !h.BindJSON(c, &req) {
		return
	}
	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		h.BadRequest(c, "Invalid companyId")
		return
	}
	if req.Order == nil && req.OrderID == "" {
		h.BadRequest(c, "Either order or orderId is required")
		return
	}

	result, err := h.service.PreviewMapping(c.Request.Context(), appdelivery.PreviewCommand{
		CompanyID:     companyID,
		OrderID:       req.OrderID,
		Snapshot:      req.Order,
		FieldMappings: dto.ToFieldMappings(req.FieldMappings),
		CustomFields:  req.CustomFields,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// UpdateCredentials merges a partial credential update.
// PUT /api/v1/delivery/companies/:id/credentials
func (h *DeliveryHandler) UpdateCredentials(c *gin.Context) {
	companyID, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateCredentialsRequest
	if !h.BindJSON(c, &req) {
		return
	}

	update, err := req.ToDomain()
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp, err := h.service.UpdateCredentials(c.Request.Context(), companyID, update)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// QuoteFee computes a carrier's delivery fee.
// POST /api/v1/delivery/companies/:id/quote
func (h *DeliveryHandler) QuoteFee(c *gin.Context) {
	companyID, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req dto.QuoteRequest
	if !h.BindJSON(c, &req) {
		return
	}

	quote, err := h.service.QuoteDeliveryFee(c.Request.Context(), companyID, appdelivery.QuoteCommand{
		Region:     req.Region,
		WeightKg:   req.WeightKg,
		DistanceKm: req.DistanceKm,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, quote)
}

// ListOrders returns the delivery records of an order, or the single record
// of a pair when companyId is given.
// GET /api/v1/delivery/orders?orderId=&companyId=
func (h *DeliveryHandler) ListOrders(c *gin.Context) {
	var q dto.ListDeliveryOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	if q.CompanyID != "" {
		companyID, err := uuid.Parse(q.CompanyID)
		if err != nil {
			h.BadRequest(c, "Invalid companyId: must be a UUID")
			return
		}
		order, err := h.service.GetDeliveryOrder(c.Request.Context(), q.OrderID, companyID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, []appdelivery.DeliveryOrderResponse{*order})
		return
	}

	orders, err := h.service.ListDeliveryOrders(c.Request.Context(), q.OrderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, orders)
}

// UpdateStatus advances a delivery along its lifecycle.
// PUT /api/v1/delivery/orders/:id/status
func (h *DeliveryHandler) UpdateStatus(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateDeliveryStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.UpdateDeliveryStatus(c.Request.Context(), id, delivery.DeliveryStatus(req.Status), req.ExternalStatus)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Cancel cancels a delivery.
// POST /api/v1/delivery/orders/:id/cancel
func (h *DeliveryHandler) Cancel(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}

	resp, err := h.service.CancelDelivery(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
