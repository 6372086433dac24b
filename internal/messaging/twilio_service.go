package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a webhook without sending a message; replies go out through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements Service using the Twilio API. Inbound messages arrive through
// WebhookHandler.
type TwilioService struct {
	client     twiliowhatsapp.TwilioWhatsAppSender
	validator  *twiliowhatsapp.SignatureValidator
	webhookURL string
	inbound    chan models.InboundMessage
	done       chan struct{}
	mu         sync.RWMutex
	stopped    bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not match.
// webhookURL is the public URL Twilio posts to; when empty it is rebuilt from the request.
func WithSignatureValidation(v *twiliowhatsapp.SignatureValidator, webhookURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.webhookURL = webhookURL
	}
}

// NewTwilioService creates a TwilioService around a Twilio client or MockClient.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("TwilioService created", "signature_validation", s.validator != nil, "webhook_url_set", s.webhookURL != "")
	return s
}

// ValidateAndCanonicalizeRecipient reduces a phone number or WhatsApp address to its digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start is a no-op; inbound traffic is pushed to WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel. It is safe to call more than once.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.inbound)
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// Inbound returns the channel of incoming messages.
func (s *TwilioService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

// WebhookHandler handles inbound Twilio webhook requests and emits them on Inbound.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		if !s.validator.Validate(s.signedURL(r), r.PostForm, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("TwilioService.WebhookHandler: invalid signature", "remote_addr", r.RemoteAddr)
			http.Error(w, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	from := strings.TrimPrefix(r.PostForm.Get("From"), twiliowhatsapp.WhatsAppPrefix)
	body := r.PostForm.Get("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	s.emit(models.InboundMessage{
		ID:   r.PostForm.Get("MessageSid"),
		From: from,
		Body: body,
		Time: time.Now(),
	})

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

// signedURL is the URL Twilio computed the signature over.
func (s *TwilioService) signedURL(r *http.Request) string {
	if s.webhookURL != "" {
		return s.webhookURL
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *TwilioService) emit(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From, "id", msg.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService inbound channel blocked, dropping message", "from", msg.From)
	}
}
