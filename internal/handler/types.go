package handler

import (
	"time"

	"datasweep/internal/ai"
)

// ScanRequest represents the request structure for starting a mailbox scan
type ScanRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DaysBack    int    `json:"days_back"`
	MaxMessages int    `json:"max_messages"`
}

// ResponseScanRequest represents the request structure for starting a response scan
type ResponseScanRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	DaysBack int    `json:"days_back"`
}

// ScanStartedResponse is returned when a scan job is accepted
type ScanStartedResponse struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// ReclassifyRequest carries optional externally produced classifications.
// When empty, the service reclassifies the thread itself.
type ReclassifyRequest struct {
	Classifications []ai.Classification `json:"classifications"`
}

// ReclassifyResponse reports how many responses changed classification
type ReclassifyResponse struct {
	RequestID string `json:"request_id"`
	Updated   int    `json:"updated"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
