// Package models defines the core data structures for LifeStation.
//
// It includes inbound event types, per-user capture kinds, durable record types and the
// JSON envelope used by the HTTP gateway. These types are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// EventKind defines how an inbound event reached the bot.
type EventKind string

const (
	// EventCommand is a slash-style command such as /start or /settarget.
	EventCommand EventKind = "command"
	// EventCallback is a button press carrying a flat action id.
	EventCallback EventKind = "callback"
	// EventText is a free-text message.
	EventText EventKind = "text"
)

// Validation constants for inbound events
const (
	// MaxTextLength defines the maximum accepted length of free text and command arguments
	MaxTextLength = 4096
	// MaxUserIDLength defines the maximum accepted length of a platform user identifier
	MaxUserIDLength = 128
	// MaxActionIDLength defines the maximum accepted length of a callback action id
	MaxActionIDLength = 64
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID     = errors.New("user_id cannot be empty")
	ErrUserIDTooLong   = errors.New("user_id exceeds maximum length")
	ErrInvalidKind     = errors.New("invalid event kind")
	ErrEmptyCommand    = errors.New("command name is required for command events")
	ErrEmptyActionID   = errors.New("action_id is required for callback events")
	ErrActionIDTooLong = errors.New("action_id exceeds maximum length")
	ErrTextTooLong     = errors.New("text exceeds maximum length")
)

// IsValidEventKind checks if the given event kind is supported.
func IsValidEventKind(k EventKind) bool {
	switch k {
	case EventCommand, EventCallback, EventText:
		return true
	default:
		return false
	}
}

// Event is one inbound event delivered by the messaging platform.
type Event struct {
	ID         string    `json:"id,omitempty"`
	Kind       EventKind `json:"kind"`
	UserID     string    `json:"user_id"`
	Command    string    `json:"command,omitempty"`   // command name without the leading slash
	Args       string    `json:"args,omitempty"`      // raw command arguments
	ActionID   string    `json:"action_id,omitempty"` // callback action id
	MenuID     string    `json:"menu_id,omitempty"`   // menu the pressed button was rendered in, if known
	Text       string    `json:"text,omitempty"`      // free text body
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// NewCommand builds a command event. A leading slash on name is stripped.
func NewCommand(userID, name, args string) Event {
	return Event{Kind: EventCommand, UserID: userID, Command: strings.TrimPrefix(name, "/"), Args: args}
}

// NewCallback builds a callback event for a button press.
func NewCallback(userID, actionID string) Event {
	return Event{Kind: EventCallback, UserID: userID, ActionID: actionID}
}

// NewText builds a free-text event.
func NewText(userID, text string) Event {
	return Event{Kind: EventText, UserID: userID, Text: text}
}

// Validate performs validation on an Event structure.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return ErrEmptyUserID
	}
	if len(e.UserID) > MaxUserIDLength {
		return ErrUserIDTooLong
	}
	if !IsValidEventKind(e.Kind) {
		return ErrInvalidKind
	}

	switch e.Kind {
	case EventCommand:
		if strings.TrimPrefix(strings.TrimSpace(e.Command), "/") == "" {
			return ErrEmptyCommand
		}
		if len(e.Args) > MaxTextLength {
			return ErrTextTooLong
		}
	case EventCallback:
		if e.ActionID == "" {
			return ErrEmptyActionID
		}
		if len(e.ActionID) > MaxActionIDLength {
			return ErrActionIDTooLong
		}
	case EventText:
		if len(e.Text) > MaxTextLength {
			return ErrTextTooLong
		}
	}
	return nil
}

// AwaitingKind is the single pending free-text capture intent of a user.
type AwaitingKind string

const (
	// AwaitingNone means no free text is expected.
	AwaitingNone AwaitingKind = ""
	// AwaitingFocus expects a focus note (acknowledged, not persisted).
	AwaitingFocus AwaitingKind = "focus"
	// AwaitingTarget expects the user's new target.
	AwaitingTarget AwaitingKind = "target"
	// AwaitingMood expects a mood entry for today.
	AwaitingMood AwaitingKind = "mood"
)

// IsValidAwaitingKind reports whether k is a capture kind (AwaitingNone excluded).
func IsValidAwaitingKind(k AwaitingKind) bool {
	switch k {
	case AwaitingFocus, AwaitingTarget, AwaitingMood:
		return true
	default:
		return false
	}
}

// TargetRecord is the single current target of a user. Writes replace, never merge.
type TargetRecord struct {
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MoodDateLayout is the day-granularity layout used for MoodLogEntry.Date.
const MoodDateLayout = "2006-01-02"

// MoodLogEntry is one append-only mood record.
type MoodLogEntry struct {
	UserID    string    `json:"user_id"`
	MoodText  string    `json:"mood_text"`
	Date      string    `json:"date"` // YYYY-MM-DD
	CreatedAt time.Time `json:"created_at"`
}

// MoodDate formats t as a mood log calendar date.
func MoodDate(t time.Time) string {
	return t.Format(MoodDateLayout)
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
