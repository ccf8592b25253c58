// Package models defines the core data structures for IngestPipe.
//
// It includes the inbound webhook payload, the durable message record, and
// shared API response types used across modules.
package models

import (
	"errors"
	"time"
)

// Channel identifies the origin communication channel of an inbound message.
type Channel string

const (
	// ChannelSlack is a message delivered from a Slack workspace webhook.
	ChannelSlack Channel = "slack"
	// ChannelWhatsApp is a message delivered from a WhatsApp business webhook.
	ChannelWhatsApp Channel = "whatsapp"
	// ChannelEmail is a message delivered from an inbound email gateway.
	ChannelEmail Channel = "email"
	// ChannelWebhook is a message delivered from a generic webhook source.
	ChannelWebhook Channel = "webhook"
)

// Validation constants for inbound message fields.
const (
	// MaxContentLength defines the maximum allowed length for message content.
	MaxContentLength = 64 * 1024
	// MaxSenderLength defines the maximum allowed length for a sender identifier.
	MaxSenderLength = 256
)

// Error variables for better error handling and testability.
var (
	ErrMissingTenant  = errors.New("tenant_id cannot be empty")
	ErrInvalidChannel = errors.New("invalid channel")
	ErrMissingSender  = errors.New("sender cannot be empty")
	ErrSenderTooLong  = errors.New("sender exceeds maximum length")
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrContentTooLong = errors.New("content exceeds maximum length")
)

// IsValidChannel checks if the given channel is supported.
func IsValidChannel(c Channel) bool {
	switch c {
	case ChannelSlack, ChannelWhatsApp, ChannelEmail, ChannelWebhook:
		return true
	default:
		return false
	}
}

// InboundMessage represents a webhook-delivered message before deduplication.
//
// ExternalID is the stable message identifier assigned by the origin channel
// (e.g., a Slack event ID). It may be empty for channels that only guarantee
// content equality; deduplication then falls back to a content hash.
type InboundMessage struct {
	TenantID   string            `json:"tenant_id"`
	Channel    Channel           `json:"channel"`
	ExternalID string            `json:"external_id,omitempty"`
	Sender     string            `json:"sender"`
	Content    string            `json:"content"`
	ReceivedAt time.Time         `json:"received_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate performs validation on an InboundMessage.
func (m *InboundMessage) Validate() error {
	if m.TenantID == "" {
		return ErrMissingTenant
	}
	if !IsValidChannel(m.Channel) {
		return ErrInvalidChannel
	}
	if m.Sender == "" {
		return ErrMissingSender
	}
	if len(m.Sender) > MaxSenderLength {
		return ErrSenderTooLong
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// Message is the durable, deduplicated message record.
//
// For a given (TenantID, Channel, IdempotencyKey) at most one Message exists
// for the lifetime of the system, and the record is immutable once created.
type Message struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Channel        Channel   `json:"channel"`
	IdempotencyKey string    `json:"idempotency_key"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusCreated indicates a new message record was persisted.
	APIStatusCreated APIStatus = "created"
	// APIStatusDuplicate indicates the message was already persisted.
	APIStatusDuplicate APIStatus = "duplicate"
	// APIStatusPartial indicates the record was persisted but a follow-up
	// action (e.g., the categorization trigger) failed.
	APIStatusPartial APIStatus = "partial"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Created creates an API response for a newly persisted message record.
func Created(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusCreated), Result: result}
}

// Duplicate creates an API response for an already-persisted message record.
func Duplicate(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusDuplicate), Result: result}
}

// Partial creates an API response for a persisted record whose follow-up
// action failed.
func Partial(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusPartial), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
