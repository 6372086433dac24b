// Package flow implements the conversation state machine that collects travel
// preferences, builds an itinerary and applies follow-up edits to it.
//
// Every turn runs against a copy of the session held under the session's lock. The copy is
// committed only when the turn completes with an ok outcome, so a turn that fails validation,
// hits a collaborator failure or panics leaves the session exactly as it was.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/intent"
	"github.com/BTreeMap/TripPipe/internal/itinerary"
	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/session"
	"github.com/BTreeMap/TripPipe/internal/store"
)

// DefaultTurnTimeout bounds the collaborator calls made during a single turn.
const DefaultTurnTimeout = 30 * time.Second

// Outcome classifies how a turn ended. Only OutcomeOK commits session changes.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeValidation   Outcome = "validation"
	OutcomeCollaborator Outcome = "collaborator"
	OutcomeInternal     Outcome = "internal"
)

// Geocoder resolves a hotel name or address. It returns models.ErrAddressNotFound on a miss.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Hotel, error)
}

// CandidateSource builds candidate place sets. Implemented by *catalog.Builder.
type CandidateSource interface {
	Search(ctx context.Context, q catalog.Query) []models.Place
	ProbeCuisines(ctx context.Context, origin models.LatLng, radiusMeters float64) []string
}

// Synthesizer turns candidates into an itinerary. Implemented by *itinerary.Synthesizer.
type Synthesizer interface {
	Synthesize(ctx context.Context, req itinerary.Request) (*models.Itinerary, error)
}

// turnResult is what a step handler produces.
type turnResult struct {
	outcome   Outcome
	reply     string
	options   []string
	itinerary *models.Itinerary
	err       error
}

func ok(reply string, options []string) turnResult {
	return turnResult{outcome: OutcomeOK, reply: reply, options: options}
}

func invalid(reply string, options []string) turnResult {
	return turnResult{outcome: OutcomeValidation, reply: reply, options: options}
}

func collaboratorFailure(reply string, err error) turnResult {
	return turnResult{outcome: OutcomeCollaborator, reply: reply, err: err}
}

// Planner runs conversation turns.
type Planner struct {
	sessions    *session.Store
	geocoder    Geocoder
	catalog     CandidateSource
	synth       Synthesizer
	parser      *intent.Parser
	turns       store.TurnLog
	minRating   float64
	openNowOnly bool
	turnTimeout time.Duration
	now         func() time.Time
}

// Option defines a configuration option for the Planner.
type Option func(*Planner)

// WithParser sets the follow-up intent parser.
func WithParser(p *intent.Parser) Option {
	return func(pl *Planner) { pl.parser = p }
}

// WithTurnLog records every turn to the given log.
func WithTurnLog(l store.TurnLog) Option {
	return func(pl *Planner) { pl.turns = l }
}

// WithMinRating sets the rating threshold for candidate searches.
func WithMinRating(r float64) Option {
	return func(pl *Planner) { pl.minRating = r }
}

// WithOpenNowOnly restricts candidate searches to places open at the time of the turn.
func WithOpenNowOnly(enabled bool) Option {
	return func(pl *Planner) { pl.openNowOnly = enabled }
}

// WithTurnTimeout bounds the collaborator calls of a single turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(pl *Planner) {
		if d > 0 {
			pl.turnTimeout = d
		}
	}
}

// WithClock overrides the time source used for open-now filtering.
func WithClock(now func() time.Time) Option {
	return func(pl *Planner) { pl.now = now }
}

// NewPlanner creates a Planner.
func NewPlanner(sessions *session.Store, geocoder Geocoder, candidates CandidateSource, synth Synthesizer, opts ...Option) *Planner {
	p := &Planner{
		sessions:    sessions,
		geocoder:    geocoder,
		catalog:     candidates,
		synth:       synth,
		minRating:   models.DefaultMinRating,
		turnTimeout: DefaultTurnTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.parser == nil {
		p.parser = intent.NewParser()
	}
	slog.Debug("Planner created", "min_rating", p.minRating, "open_now_only", p.openNowOnly, "turn_timeout", p.turnTimeout, "turn_log", p.turns != nil)
	return p
}

// HandleTurn processes one inbound message. It always returns a response; failures are
// reported in the reply text and never leave a partially updated session behind.
func (p *Planner) HandleTurn(ctx context.Context, req models.ChatRequest) models.ChatResponse {
	ctx, cancel := context.WithTimeout(ctx, p.turnTimeout)
	defer cancel()

	msg := strings.TrimSpace(req.Message)

	if req.SessionID == "" {
		id := p.sessions.Create()
		slog.Info("Planner.HandleTurn: new session", "session_id", id)
		return p.finish(ctx, id, models.StepAwaitingItineraryType, msg, ok(welcomeMessage, models.ItineraryTypeOptions()))
	}

	if cmd, isUniversal := intent.ParseUniversal(msg); isUniversal {
		if _, reset := cmd.(intent.StartOver); reset {
			p.sessions.Clear(req.SessionID)
			id := p.sessions.Create()
			slog.Info("Planner.HandleTurn: session reset", "old_session_id", req.SessionID, "session_id", id)
			return p.finish(ctx, id, models.StepAwaitingItineraryType, msg, ok(resetMessage+welcomeMessage, models.ItineraryTypeOptions()))
		}
	}

	var (
		res  turnResult
		step models.Step
	)
	err := p.sessions.Update(req.SessionID, func(s *models.Session) (bool, error) {
		step = s.Step
		res = p.runTurn(ctx, s, msg)
		return res.outcome == OutcomeOK, nil
	})
	if errors.Is(err, session.ErrNotFound) {
		id := p.sessions.Create()
		slog.Info("Planner.HandleTurn: unknown or expired session, starting over", "old_session_id", req.SessionID, "session_id", id)
		return p.finish(ctx, id, models.StepAwaitingItineraryType, msg, ok(expiredMessage+welcomeMessage, models.ItineraryTypeOptions()))
	}
	if err != nil {
		slog.Error("Planner.HandleTurn: session update failed", "error", err, "session_id", req.SessionID)
		res = turnResult{outcome: OutcomeInternal, reply: genericErrorMessage, err: err}
	}
	return p.finish(ctx, req.SessionID, step, msg, res)
}

// ClearSession destroys a session. Clearing an unknown id is a no-op.
func (p *Planner) ClearSession(id string) {
	p.sessions.Clear(id)
}

// ActiveSessions reports the number of live sessions.
func (p *Planner) ActiveSessions() int {
	return p.sessions.Len()
}

// runTurn dispatches to the universal commands and the handler of the current step.
// Panics are converted into an internal outcome so the working copy is discarded.
func (p *Planner) runTurn(ctx context.Context, s *models.Session, msg string) (res turnResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Planner.runTurn: recovered from panic", "panic", r, "session_id", s.ID, "step", s.Step.String())
			res = turnResult{outcome: OutcomeInternal, reply: genericErrorMessage, err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if cmd, isUniversal := intent.ParseUniversal(msg); isUniversal {
		if _, show := cmd.(intent.ShowItinerary); show {
			return p.showItinerary(s)
		}
	}
	if msg == "" {
		return p.reprompt(s)
	}
	return handlerFor(s.Step)(p, ctx, s, msg)
}

func (p *Planner) showItinerary(s *models.Session) turnResult {
	if s.Itinerary == nil {
		return ok(notReadyMessage, stepOptions(s))
	}
	res := ok("Here is your current itinerary.", stepOptions(s))
	res.itinerary = s.Itinerary
	return res
}

// finish logs the turn, records it in the turn log and builds the response.
func (p *Planner) finish(ctx context.Context, sessionID string, step models.Step, msg string, res turnResult) models.ChatResponse {
	attrs := []any{"session_id", sessionID, "step", step.String(), "outcome", res.outcome}
	switch res.outcome {
	case OutcomeInternal:
		slog.Error("Planner.HandleTurn: turn failed", append(attrs, "error", res.err)...)
	case OutcomeCollaborator:
		slog.Warn("Planner.HandleTurn: collaborator failure", append(attrs, "error", res.err)...)
	default:
		slog.Debug("Planner.HandleTurn: turn handled", attrs...)
	}

	if p.turns != nil {
		rec := store.TurnRecord{
			SessionID: sessionID,
			Step:      step.String(),
			Message:   msg,
			Reply:     res.reply,
			Outcome:   string(res.outcome),
		}
		if err := p.turns.RecordTurn(context.WithoutCancel(ctx), rec); err != nil {
			slog.Warn("Planner.HandleTurn: failed to record turn", "error", err, "session_id", sessionID)
		}
	}

	return models.ChatResponse{
		SessionID: sessionID,
		Reply:     res.reply,
		Options:   res.options,
		Itinerary: res.itinerary.Clone(),
	}
}

func (p *Planner) openAt() *time.Time {
	if !p.openNowOnly {
		return nil
	}
	t := p.now()
	return &t
}
