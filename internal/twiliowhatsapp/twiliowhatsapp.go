// Package twiliowhatsapp wraps the Twilio API for WhatsApp messaging in TripPipe.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsAppPrefix marks a Twilio address as a WhatsApp number.
const WhatsAppPrefix = "whatsapp:"

var (
	ErrMissingCredentials = errors.New("account SID and auth token must be provided")
	ErrMissingFrom        = errors.New("fromWhats number must be provided")
)

// TwilioWhatsAppSender sends WhatsApp messages through Twilio. Implemented by *Client and *MockClient.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, also used to validate webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp.
type Client struct {
	client    *twilio.RestClient
	fromWhats string // "whatsapp:+1234567890"
}

// NewClient creates a Twilio client. Missing options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.FromWhats == "" {
		return nil, ErrMissingFrom
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Client{
		client:    rest,
		fromWhats: WhatsAppAddress(cfg.FromWhats),
	}, nil
}

// SendMessage sends a WhatsApp message to a phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		slog.Debug("Twilio message sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// WhatsAppAddress turns a phone number into a Twilio WhatsApp address.
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return WhatsAppPrefix + number
}

// SignatureValidator checks the X-Twilio-Signature header of inbound webhooks.
type SignatureValidator struct {
	validator twilioClient.RequestValidator
}

// NewSignatureValidator creates a validator for the account's auth token.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twilioClient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the public webhook URL and the posted form.
func (v *SignatureValidator) Validate(webhookURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return v.validator.Validate(webhookURL, params, signature)
}

// MockClient records messages instead of calling Twilio.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
