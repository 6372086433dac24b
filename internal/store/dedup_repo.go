// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"
)

// DedupRecord represents an inbound chat message seen by a channel.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Sender      string     `json:"sender"`
	Reply       string     `json:"reply"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// Channels redeliver messages (Twilio retries webhooks, WhatsApp replays on reconnect),
// and each inbound message must advance a conversation at most once.
type DedupRepo interface {
	// GetInbound returns the record for a message ID, or nil if it was never recorded.
	GetInbound(messageID string) (*DedupRecord, error)

	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(messageID, sender string) (bool, error)

	// SaveReply stores the reply produced for a message so a redelivery can resend it.
	SaveReply(messageID, reply string) error

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error

	// PruneInbound deletes records received before the cutoff.
	PruneInbound(ctx context.Context, before time.Time) (int64, error)
}
