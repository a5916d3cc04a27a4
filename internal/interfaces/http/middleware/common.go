// Package middleware provides HTTP middleware for the delivery API.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefront/backend/internal/infrastructure/logger"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// MaxRequestIDLength bounds client supplied request ids
const MaxRequestIDLength = 128

// CORSConfig holds CORS middleware configuration
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig returns default CORS configuration.
// AllowOrigins is empty, so cross-origin requests get no CORS headers until configured.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{},
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", RequestIDHeader, "Accept", "Origin"},
		ExposeHeaders: []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
}

// CORSWithConfig returns a CORS middleware
func CORSWithConfig(cfg CORSConfig) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowOrigins))
	wildcard := false
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		var allowOrigin string
		if wildcard {
			allowOrigin = "*"
		} else if _, ok := allowed[origin]; ok && origin != "" {
			allowOrigin = origin
		}

		if allowOrigin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allowOrigin)
			if cfg.AllowCredentials && allowOrigin != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowHeaders, ", "))
			h.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowMethods, ", "))
			if len(cfg.ExposeHeaders) > 0 {
				h.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposeHeaders, ", "))
			}
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge.Seconds())))
			}
		}

		// preflight never reaches the routes
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID assigns every request an id, reusing a sane client supplied one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > MaxRequestIDLength {
			requestID = generateRequestID()
		}
		c.Set(logger.GinRequestIDKey, requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestID
func GetRequestID(c *gin.Context) string {
	if id := c.GetString(logger.GinRequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDHeader)
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b)
}

// SecurityConfig holds configuration for security headers
type SecurityConfig struct {
	HSTSEnabled bool
	// HSTSMaxAge is in seconds
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
}

// DefaultSecurityConfig leaves HSTS off; it only makes sense behind TLS
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{HSTSMaxAge: 31536000, HSTSIncludeSubdomains: true}
}

// SecureWithConfig adds security headers to responses
func SecureWithConfig(cfg SecurityConfig) gin.HandlerFunc {
	var hsts string
	if cfg.HSTSEnabled {
		hsts = fmt.Sprintf("max-age=%d", cfg.HSTSMaxAge)
		if cfg.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if hsts != "" {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

// Timeout bounds the request context. Handlers that outlive it answer 504;
// a running carrier call is not cancelled by it.
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
