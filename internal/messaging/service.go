// Package messaging connects chat channels to the trip planner.
//
// A Service delivers outbound text and exposes inbound messages on a channel. The Bridge
// reads those messages, runs them as conversation turns and sends the rendered reply back.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size of the inbound message channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for buffer space.
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted phone number.
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned when sending on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable chat channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient and returns its canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbound returns the channel of incoming messages.
	Inbound() <-chan models.InboundMessage
}

// canonicalPhone strips everything but digits, so "whatsapp:+1 (555) 123-4567" becomes "15551234567".
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}
