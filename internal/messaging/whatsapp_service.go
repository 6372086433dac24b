package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // nil for mock senders
	inbound  chan models.InboundMessage
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the inbound channel. It is safe to call more than once.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.inbound)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonicalTo)
		return err
	}
	return nil
}

// Inbound returns the channel of incoming text messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// handleIncomingMessage forwards direct text messages from other users.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	s.emit(models.InboundMessage{
		ID:   string(evt.Info.ID),
		From: evt.Info.Sender.User,
		Body: text,
		Time: evt.Info.Timestamp,
	})
}

func (s *WhatsAppService) emit(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", msg.From)
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("WhatsAppService inbound message forwarded", "from", msg.From, "id", msg.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}
