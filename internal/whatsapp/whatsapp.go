// Package whatsapp wraps the Whatsmeow client so that travellers can plan trips over WhatsApp.
//
// It handles device login, the whatsmeow device store and outbound text messages.
// Inbound events are consumed by the messaging package through GetClient.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/BTreeMap/TripPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	// DefaultSQLitePath is the default path of the whatsmeow device database.
	DefaultSQLitePath = "/var/lib/trippipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users.
	JIDSuffix = "s.whatsapp.net"
)

var (
	ErrNotInitialized = errors.New("whatsapp client not initialized")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// WhatsAppSender sends text messages. Implemented by *Client and *MockClient.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow device database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the pairing code as text instead of rendering a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient opens the device store, logs in when no device is paired yet and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	driver, dsn := deviceStoreDSN(cfg.DBDSN)
	slog.Debug("WhatsApp NewClient initializing device store", "driver", driver)

	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := login(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient}, nil
}

func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to start WhatsApp login: %w", err)
	}
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("WhatsApp login event", "event", evt.Event)
			continue
		}
		writeLoginCode(writer, evt.Code, cfg.NumericCode)
	}
	return nil
}

func writeLoginCode(w io.Writer, code string, numeric bool) {
	if numeric {
		fmt.Fprintln(w, code)
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

// deviceStoreDSN picks the sql driver for the device store. SQLite DSNs get foreign keys
// enabled since whatsmeow relies on cascading deletes.
func deviceStoreDSN(dsn string) (driver, out string) {
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres", dsn
	}
	if strings.Contains(dsn, "foreign_keys") {
		return "sqlite3", dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return "sqlite3", dsn + sep + "_foreign_keys=on"
}

// SendMessage sends a text message to a phone number given as digits.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return ErrNotInitialized
	}
	if to == "" {
		return ErrEmptyRecipient
	}
	if body == "" {
		return ErrEmptyBody
	}

	jid := types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("WhatsApp SendMessage failed", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent", "to", to, "body_length", len(body))
	return nil
}

// GetClient returns the underlying whatsmeow client for event handling.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// Disconnect closes the connection to the WhatsApp servers.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records messages instead of sending them. Use it in tests.
type MockClient struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
