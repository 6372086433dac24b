package models

import "time"

// InboundMessage is a text message received on a chat channel.
type InboundMessage struct {
	// ID is the channel's message id (Twilio MessageSid, WhatsApp message id).
	ID   string    `json:"id"`
	From string    `json:"from"`
	Body string    `json:"body"`
	Time time.Time `json:"time"`
}
