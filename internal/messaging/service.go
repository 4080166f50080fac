// Package messaging connects chat transports to the dialog dispatcher.
package messaging

import (
	"context"

	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/models"
)

// Service defines a pluggable chat transport.
// It delivers inbound events on a channel and renders replies back to users.
type Service interface {
	// SendResponse renders resp to userID.
	SendResponse(ctx context.Context, userID string, resp dialog.Response) error

	// Start begins any background processing (e.g., reading input).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns a channel of inbound events. It is closed when the transport ends.
	Events() <-chan models.Event
}
