package carrier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/backend/internal/domain/delivery"
)

// jsonRPCRequest is a JSON-RPC 2.0 call envelope
type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      string         `json:"id"`
}

// JSONRPCAdapter calls a JSON-RPC 2.0 endpoint (Odoo style), passing
// login, password and database alongside the payload.
type JSONRPCAdapter struct {
	transport *transport
	method    string
}

// NewJSONRPCAdapter creates a JSON-RPC adapter
func NewJSONRPCAdapter(config *Config, client *http.Client) (*JSONRPCAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &JSONRPCAdapter{
		transport: newTransport(config, client),
		method:    config.JSONRPCMethod,
	}, nil
}

// Format returns the API format this adapter handles
func (a *JSONRPCAdapter) Format() delivery.APIFormat {
	return delivery.APIFormatJSONRPC
}

// Send invokes the order creation method
func (a *JSONRPCAdapter) Send(ctx context.Context, req *delivery.SendRequest) *delivery.SendResult {
	started := time.Now()

	if err := req.Credentials.UsableFor(delivery.APIFormatJSONRPC); err != nil {
		return finish(delivery.Failed(delivery.FailureTransport, 0, "", err.Error()), started)
	}

	// mapped payload keys win over the credential keys of the same name
	params := make(map[string]any, len(req.Payload)+3)
	params["login"] = req.Credentials.Login
	params["password"] = req.Credentials.Password
	params["db"] = req.Credentials.Database
	for k, v := range req.Payload {
		params[k] = v
	}

	body, err := encodeJSON(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  a.method,
		Params:  params,
		ID:      uuid.NewString(),
	})
	if err != nil {
		return finish(delivery.Failed(delivery.FailureTransport, 0, "", fmt.Sprintf("carrier: encode payload: %v", err)), started)
	}

	resp, err := a.transport.post(ctx, req.BaseURL, body, map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})
	if err != nil {
		return transportFailure(err, started)
	}
	return finish(interpretJSONRPC(resp), started)
}

// interpretJSONRPC maps a JSON-RPC response onto a send result. Success needs
// a result member and no non-null error member.
func interpretJSONRPC(resp *httpResponse) *delivery.SendResult {
	raw := string(resp.Body)
	obj, ok := decodeObject(resp.Body)
	if !ok {
		if !resp.IsSuccess() {
			return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, fmt.Sprintf("carrier returned HTTP %d", resp.StatusCode))
		}
		return delivery.Failed(delivery.FailureUnexpectedShape, resp.StatusCode, raw, "carrier: response is not a JSON-RPC object")
	}

	if rpcErr, has := obj["error"]; has && rpcErr != nil {
		msg := "carrier: json-rpc error"
		if m, isMap := rpcErr.(map[string]any); isMap {
			msg = errorMessage(m, msg)
			if data, hasData := m["data"].(map[string]any); hasData {
				msg = errorMessage(data, msg)
			}
		} else {
			msg = delivery.Stringify(rpcErr)
		}
		return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, msg)
	}

	result, has := obj["result"]
	if !has || result == nil {
		return delivery.Failed(delivery.FailureUnexpectedShape, resp.StatusCode, raw, "carrier: json-rpc response has neither result nor error")
	}
	if !resp.IsSuccess() {
		return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, fmt.Sprintf("carrier returned HTTP %d", resp.StatusCode))
	}

	out := &delivery.SendResult{Success: true, StatusCode: resp.StatusCode, RawResponse: raw}
	switch r := result.(type) {
	case map[string]any:
		ids := extractIdentifiers(r)
		out.ExternalOrderID = ids.ExternalOrderID
		out.ExternalStatus = ids.ExternalStatus
		out.TrackingNumber = ids.TrackingNumber
	case bool:
		// create methods often answer true with no identifiers
	default:
		out.ExternalOrderID = delivery.Stringify(r)
	}
	return out
}

// Ensure JSONRPCAdapter implements ProviderAdapter
var _ delivery.ProviderAdapter = (*JSONRPCAdapter)(nil)
