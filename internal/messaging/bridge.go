package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/store"
)

// Turner runs one conversation turn. Implemented by *flow.Planner.
type Turner interface {
	HandleTurn(ctx context.Context, req models.ChatRequest) models.ChatResponse
}

// Bridge maps chat senders onto planner sessions.
type Bridge struct {
	svc     Service
	planner Turner
	dedup   store.DedupRepo

	mu       sync.Mutex
	sessions map[string]string // canonical sender -> session id
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithDedup records inbound message ids so a redelivered message never runs a second turn.
func WithDedup(repo store.DedupRepo) BridgeOption {
	return func(b *Bridge) { b.dedup = repo }
}

// NewBridge creates a Bridge between a chat channel and the planner.
func NewBridge(svc Service, planner Turner, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		svc:      svc,
		planner:  planner,
		sessions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run handles inbound messages one at a time until the channel closes or ctx is done.
// Sequential handling keeps each sender's messages in arrival order.
func (b *Bridge) Run(ctx context.Context) {
	slog.Debug("Bridge.Run: started")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Bridge.Run: context done")
			return
		case msg, ok := <-b.svc.Inbound():
			if !ok {
				slog.Debug("Bridge.Run: inbound channel closed")
				return
			}
			if err := b.HandleMessage(ctx, msg); err != nil {
				slog.Error("Bridge.Run: failed to handle message", "error", err, "from", msg.From, "id", msg.ID)
			}
		}
	}
}

// HandleMessage runs a message as a turn of the sender's session and sends back the reply.
// A redelivered message never runs a second turn. If its reply was stored but never sent,
// the stored reply is sent again.
func (b *Bridge) HandleMessage(ctx context.Context, msg models.InboundMessage) error {
	from, err := b.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	tracked := b.dedup != nil && msg.ID != ""
	if tracked {
		fresh, err := b.dedup.RecordInbound(msg.ID, from)
		if err != nil {
			slog.Warn("Bridge.HandleMessage: dedup check failed, processing anyway", "error", err, "id", msg.ID)
			tracked = false
		} else if !fresh {
			return b.redeliver(ctx, msg.ID, from)
		}
	}

	resp := b.planner.HandleTurn(ctx, models.ChatRequest{
		SessionID: b.SessionFor(from),
		Message:   msg.Body,
	})
	b.setSession(from, resp.SessionID)
	reply := FormatResponse(resp)

	if tracked {
		if err := b.dedup.SaveReply(msg.ID, reply); err != nil {
			slog.Warn("Bridge.HandleMessage: failed to store reply", "error", err, "id", msg.ID)
		}
	}
	return b.send(ctx, msg.ID, from, reply, tracked)
}

// redeliver handles a message id that was already recorded.
func (b *Bridge) redeliver(ctx context.Context, id, from string) error {
	rec, err := b.dedup.GetInbound(id)
	if err != nil {
		return fmt.Errorf("load inbound %s: %w", id, err)
	}
	switch {
	case rec == nil || rec.ProcessedAt != nil:
		slog.Info("Bridge.HandleMessage: duplicate message skipped", "id", id, "from", from)
		return nil
	case rec.Reply == "":
		slog.Warn("Bridge.HandleMessage: duplicate of an unfinished message has no stored reply", "id", id, "from", from)
		return nil
	}
	slog.Info("Bridge.HandleMessage: resending stored reply", "id", id, "from", from)
	return b.send(ctx, id, from, rec.Reply, true)
}

func (b *Bridge) send(ctx context.Context, id, to, reply string, tracked bool) error {
	if err := b.svc.SendMessage(ctx, to, reply); err != nil {
		return fmt.Errorf("send reply to %s: %w", to, err)
	}
	if tracked {
		if err := b.dedup.MarkProcessed(id); err != nil {
			slog.Warn("Bridge.HandleMessage: failed to mark message processed", "error", err, "id", id)
		}
	}
	return nil
}

// SessionFor returns the session id bound to a canonical sender, or "" if none.
func (b *Bridge) SessionFor(sender string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[sender]
}

func (b *Bridge) setSession(sender, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev := b.sessions[sender]; prev != sessionID {
		slog.Debug("Bridge: sender bound to session", "from", sender, "session_id", sessionID, "previous_session_id", prev)
	}
	b.sessions[sender] = sessionID
}
