package carrier

import (
	"errors"
	"time"
)

// Default transport settings for carrier calls
const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 10 * 1024 * 1024
	DefaultJSONRPCMethod    = "create_order"
	DefaultSOAPNamespace    = "http://delivery.storefront.local/v1"
	DefaultSOAPAction       = "CreateOrder"
	DefaultGraphQLMutation  = `mutation CreateDelivery($input: CreateDeliveryInput!) {
  createDelivery(input: $input) {
    id
    status
    trackingNumber
  }
}`
	DefaultUserAgent = "storefront-delivery/1.0"
)

// Errors for carrier configuration
var (
	ErrConfigInvalidTimeout      = errors.New("carrier: timeout must be positive")
	ErrConfigInvalidResponseSize = errors.New("carrier: max response bytes must be positive")
	ErrConfigInvalidRateLimit    = errors.New("carrier: rate limit cannot be negative")
	ErrConfigInvalidMutation     = errors.New("carrier: graphql mutation must be a single mutation declaring $input")
)

// Config holds the transport settings shared by every adapter
type Config struct {
	// Timeout bounds a single HTTP call, including reading the body
	Timeout time.Duration
	// MaxResponseBytes caps how much of a carrier response is read
	MaxResponseBytes int64
	// RateLimit is the outbound requests per second per adapter, 0 disables limiting
	RateLimit float64
	// RateBurst is the limiter bucket size
	RateBurst int
	// JSONRPCMethod is the method name of the order creation call
	JSONRPCMethod string
	// SOAPNamespace qualifies the CreateOrder element
	SOAPNamespace string
	// SOAPAction is sent in the SOAPAction header
	SOAPAction string
	// GraphQLMutation is the document sent to GraphQL carriers
	GraphQLMutation string
	UserAgent       string
}

// DefaultConfig returns a configuration with defaults applied
func DefaultConfig() *Config {
	return &Config{
		Timeout:          DefaultTimeout,
		MaxResponseBytes: DefaultMaxResponseBytes,
		RateBurst:        1,
		JSONRPCMethod:    DefaultJSONRPCMethod,
		SOAPNamespace:    DefaultSOAPNamespace,
		SOAPAction:       DefaultSOAPAction,
		GraphQLMutation:  DefaultGraphQLMutation,
		UserAgent:        DefaultUserAgent,
	}
}

// Validate validates the configuration and fills unset optional fields
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return ErrConfigInvalidTimeout
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResponseBytes < 0 {
		return ErrConfigInvalidResponseSize
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if c.RateLimit < 0 {
		return ErrConfigInvalidRateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.JSONRPCMethod == "" {
		c.JSONRPCMethod = DefaultJSONRPCMethod
	}
	if c.SOAPNamespace == "" {
		c.SOAPNamespace = DefaultSOAPNamespace
	}
	if c.SOAPAction == "" {
		c.SOAPAction = DefaultSOAPAction
	}
	if c.GraphQLMutation == "" {
		c.GraphQLMutation = DefaultGraphQLMutation
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return nil
}
