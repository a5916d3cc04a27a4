package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/storefront/backend/internal/domain/delivery"
)

// ErrResponseTooLarge indicates a carrier response above the configured cap
var ErrResponseTooLarge = errors.New("carrier: response exceeds size limit")

// httpResponse is a fully read carrier response
type httpResponse struct {
	StatusCode int
	Body       []byte
}

// IsSuccess reports a 2xx status
func (r *httpResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// transport is the HTTP plumbing every adapter shares: bounded client,
// capped body reads and an optional outbound rate limit.
type transport struct {
	client           *http.Client
	limiter          *rate.Limiter
	maxResponseBytes int64
	userAgent        string
}

func newTransport(config *Config, client *http.Client) *transport {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	return &transport{
		client:           client,
		limiter:          limiter,
		maxResponseBytes: config.MaxResponseBytes,
		userAgent:        config.UserAgent,
	}
}

// post sends body to url and reads at most maxResponseBytes of the answer.
// Any returned error is a transport failure.
func (t *transport) post(ctx context.Context, url string, body []byte, headers map[string]string) (*httpResponse, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("carrier: rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("carrier: failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carrier: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("carrier: failed to read response: %w", err)
	}
	if int64(len(data)) > t.maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, t.maxResponseBytes)
	}

	return &httpResponse{StatusCode: resp.StatusCode, Body: data}, nil
}

// ---------------------------------------------------------------------------
// Result helpers
// ---------------------------------------------------------------------------

func transportFailure(err error, started time.Time) *delivery.SendResult {
	result := delivery.Failed(delivery.FailureTransport, 0, "", err.Error())
	result.Duration = time.Since(started)
	return result
}

func finish(result *delivery.SendResult, started time.Time) *delivery.SendResult {
	result.Duration = time.Since(started)
	return result
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeObject parses a JSON object keeping numbers as json.Number
func decodeObject(data []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// ---------------------------------------------------------------------------
// Identifier extraction
// ---------------------------------------------------------------------------

var (
	externalIDKeys = []string{"id", "orderId", "order_id", "external_id", "externalId", "reference"}
	statusKeys     = []string{"status", "state", "orderStatus"}
	trackingKeys   = []string{"trackingNumber", "tracking_number", "trackingNo", "awb"}
	messageKeys    = []string{"message", "error", "error_message", "errorMessage", "detail"}
)

// identifiers are the carrier-side references found in a response
type identifiers struct {
	ExternalOrderID string
	ExternalStatus  string
	TrackingNumber  string
}

// extractIdentifiers looks for common keys at the top level and inside a
// "data" or "result" envelope. Top-level keys win.
func extractIdentifiers(obj map[string]any) identifiers {
	var ids identifiers
	for _, scope := range candidateScopes(obj) {
		if ids.ExternalOrderID == "" {
			ids.ExternalOrderID = firstScalar(scope, externalIDKeys)
		}
		if ids.ExternalStatus == "" {
			ids.ExternalStatus = firstScalar(scope, statusKeys)
		}
		if ids.TrackingNumber == "" {
			ids.TrackingNumber = firstScalar(scope, trackingKeys)
		}
	}
	return ids
}

func candidateScopes(obj map[string]any) []map[string]any {
	scopes := []map[string]any{obj}
	for _, key := range []string{"data", "result"} {
		if nested, ok := obj[key].(map[string]any); ok {
			scopes = append(scopes, nested)
		}
	}
	return scopes
}

// firstScalar returns the first non-empty string or number under keys
func firstScalar(obj map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number, float64, int, int64, bool:
			return delivery.Stringify(v)
		}
	}
	return ""
}

// errorMessage pulls a human message out of a failure body
func errorMessage(obj map[string]any, fallback string) string {
	for _, scope := range candidateScopes(obj) {
		for _, key := range messageKeys {
			switch v := scope[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if msg := firstScalar(v, []string{"message", "detail"}); msg != "" {
					return msg
				}
			}
		}
	}
	return fallback
}
