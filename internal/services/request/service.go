package request

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// requestIDLocalKey is the shared key for storing request ID in fiber locals
	requestIDLocalKey = "request_id"
	// maxRequestIDLength is the maximum allowed length for request IDs
	maxRequestIDLength = 256
)

// BaseService provides common request handling utilities that can be embedded and specialized
type BaseService struct{}

// NewBaseService creates a new base request service
func NewBaseService() *BaseService {
	return &BaseService{}
}

// sanitizeRequestID sanitizes and caps the length of a request ID
func (s *BaseService) sanitizeRequestID(reqID string) string {
	sanitized := strings.TrimSpace(reqID)
	if len(sanitized) > maxRequestIDLength {
		sanitized = sanitized[:maxRequestIDLength]
	}
	return sanitized
}

// GetRequestID extracts or generates a request ID from the context
func (s *BaseService) GetRequestID(c *fiber.Ctx) string {
	if cachedID := c.Locals(requestIDLocalKey); cachedID != nil {
		if str, ok := cachedID.(string); ok && str != "" {
			return str
		}
	}

	var requestID string

	if headerID := c.Get("X-Request-ID"); headerID != "" {
		requestID = s.sanitizeRequestID(headerID)
	}

	if requestID == "" {
		requestID = s.GenerateRequestID()
	}

	c.Locals(requestIDLocalKey, requestID)

	return requestID
}

// GenerateRequestID creates a new random request ID
func (s *BaseService) GenerateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "req_unknown"
	}
	return "req_" + hex.EncodeToString(bytes)
}
