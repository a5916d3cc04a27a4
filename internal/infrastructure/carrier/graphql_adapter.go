package carrier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/storefront/backend/internal/domain/delivery"
)

// graphQLRequest is the standard GraphQL-over-HTTP body
type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables"`
}

// GraphQLAdapter sends the payload as the $input variable of a configured mutation
type GraphQLAdapter struct {
	transport     *transport
	document      string
	operationName string
}

// NewGraphQLAdapter creates a GraphQL adapter. The mutation document is parsed
// up front; it must hold exactly one mutation that declares $input.
func NewGraphQLAdapter(config *Config, client *http.Client) (*GraphQLAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	op, err := ParseMutation(config.GraphQLMutation)
	if err != nil {
		return nil, err
	}
	return &GraphQLAdapter{
		transport:     newTransport(config, client),
		document:      config.GraphQLMutation,
		operationName: op.Name,
	}, nil
}

// ParseMutation checks a mutation document and returns its operation
func ParseMutation(document string) (*ast.OperationDefinition, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "mutation", Input: document})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalidMutation, err)
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("%w: found %d operations", ErrConfigInvalidMutation, len(doc.Operations))
	}
	op := doc.Operations[0]
	if op.Operation != ast.Mutation {
		return nil, fmt.Errorf("%w: operation is a %s", ErrConfigInvalidMutation, op.Operation)
	}
	for _, v := range op.VariableDefinitions {
		if v.Variable == "input" {
			return op, nil
		}
	}
	return nil, fmt.Errorf("%w: $input is not declared", ErrConfigInvalidMutation)
}

// Format returns the API format this adapter handles
func (a *GraphQLAdapter) Format() delivery.APIFormat {
	return delivery.APIFormatGraphQL
}

// Send executes the mutation with the payload as variables.input
func (a *GraphQLAdapter) Send(ctx context.Context, req *delivery.SendRequest) *delivery.SendResult {
	started := time.Now()

	body, err := encodeJSON(graphQLRequest{
		Query:         a.document,
		OperationName: a.operationName,
		Variables:     map[string]any{"input": req.Payload},
	})
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
	return finish(interpretGraphQL(resp), started)
}

// interpretGraphQL succeeds iff the body is an object with data and without
// a non-empty top-level errors list.
func interpretGraphQL(resp *httpResponse) *delivery.SendResult {
	raw := string(resp.Body)
	obj, ok := decodeObject(resp.Body)
	if !ok {
		if !resp.IsSuccess() {
			return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, fmt.Sprintf("carrier returned HTTP %d", resp.StatusCode))
		}
		return delivery.Failed(delivery.FailureUnexpectedShape, resp.StatusCode, raw, "carrier: response is not a GraphQL object")
	}

	if errs, has := obj["errors"].([]any); has && len(errs) > 0 {
		msg := "carrier: graphql error"
		if first, isMap := errs[0].(map[string]any); isMap {
			msg = errorMessage(first, msg)
		}
		return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, msg)
	}

	data, has := obj["data"].(map[string]any)
	if !has {
		return delivery.Failed(delivery.FailureUnexpectedShape, resp.StatusCode, raw, "carrier: graphql response has no data")
	}
	if !resp.IsSuccess() {
		return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, fmt.Sprintf("carrier returned HTTP %d", resp.StatusCode))
	}

	// data is keyed by the mutation field, e.g. {"createDelivery": {...}}
	scope := data
	if len(data) == 1 {
		for _, v := range data {
			if nested, isMap := v.(map[string]any); isMap {
				scope = nested
			}
		}
	}
	ids := extractIdentifiers(scope)
	return &delivery.SendResult{
		Success:         true,
		StatusCode:      resp.StatusCode,
		RawResponse:     raw,
		ExternalOrderID: ids.ExternalOrderID,
		ExternalStatus:  ids.ExternalStatus,
		TrackingNumber:  ids.TrackingNumber,
	}
}

// Ensure GraphQLAdapter implements ProviderAdapter
var _ delivery.ProviderAdapter = (*GraphQLAdapter)(nil)
