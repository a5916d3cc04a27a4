package carrier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/storefront/backend/internal/domain/delivery"
)

// RESTAdapter posts the mapped payload as JSON, authenticating with a bearer API key
type RESTAdapter struct {
	transport *transport
}

// NewRESTAdapter creates a REST adapter
func NewRESTAdapter(config *Config, client *http.Client) (*RESTAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RESTAdapter{transport: newTransport(config, client)}, nil
}

// Format returns the API format this adapter handles
func (a *RESTAdapter) Format() delivery.APIFormat {
	return delivery.APIFormatREST
}

// Send posts the payload to the carrier's base URL
func (a *RESTAdapter) Send(ctx context.Context, req *delivery.SendRequest) *delivery.SendResult {
	started := time.Now()

	body, err := encodeJSON(req.Payload)
	if err != nil {
		return finish(delivery.Failed(delivery.FailureTransport, 0, "", fmt.Sprintf("carrier: encode payload: %v", err)), started)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if req.Credentials != nil && req.Credentials.APIKey != "" {
		headers["Authorization"] = "Bearer " + req.Credentials.APIKey
	}

	resp, err := a.transport.post(ctx, req.BaseURL, body, headers)
	if err != nil {
		return transportFailure(err, started)
	}
	raw := string(resp.Body)
	obj, isObject := decodeObject(resp.Body)

	if !resp.IsSuccess() {
		msg := fmt.Sprintf("carrier returned HTTP %d", resp.StatusCode)
		if isObject {
			msg = errorMessage(obj, msg)
		}
		return finish(delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, msg), started)
	}

	result := &delivery.SendResult{
		Success:     true,
		StatusCode:  resp.StatusCode,
		RawResponse: raw,
	}
	if isObject {
		ids := extractIdentifiers(obj)
		result.ExternalOrderID = ids.ExternalOrderID
		result.ExternalStatus = ids.ExternalStatus
		result.TrackingNumber = ids.TrackingNumber
	}
	return finish(result, started)
}

// Ensure RESTAdapter implements ProviderAdapter
var _ delivery.ProviderAdapter = (*RESTAdapter)(nil)
