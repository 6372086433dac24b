package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/intent"
	"github.com/BTreeMap/TripPipe/internal/itinerary"
	"github.com/BTreeMap/TripPipe/internal/models"
)

// handleFollowUp applies a post-itinerary command. Mutating commands edit the candidate
// collection or the travel mode and then rebuild the itinerary from scratch.
func (p *Planner) handleFollowUp(ctx context.Context, s *models.Session, msg string) turnResult {
	if s.Hotel == nil || s.Itinerary == nil {
		return turnResult{outcome: OutcomeInternal, reply: genericErrorMessage, err: fmt.Errorf("follow-up at step %s without an itinerary", s.Step)}
	}
	menu := append([]string(nil), intent.MenuOptions...)

	switch cmd := p.parser.Parse(ctx, msg).(type) {
	case intent.NoChange:
		return ok(closingMessage, nil)

	case intent.Help:
		if text, found := menuHelp[cmd.Topic]; found {
			return ok(text, nil)
		}
		return invalid(helpMessage, menu)

	case intent.RemoveStop:
		if cmd.Index < 1 || cmd.Index > len(s.Candidates) {
			return invalid(invalidStopMessage(cmd.Index, len(s.Candidates)), menu)
		}
		if len(s.Candidates) == 1 {
			return invalid(lastStopMessage, menu)
		}
		i := cmd.Index - 1
		removed := s.Candidates[i]
		s.Candidates = append(s.Candidates[:i:i], s.Candidates[i+1:]...)
		slog.Debug("Planner.handleFollowUp: removing stop", "session_id", s.ID, "index", cmd.Index, "place_id", removed.ID)
		return p.regenerate(ctx, s, fmt.Sprintf("Removed %s.", removed.Name))

	case intent.ReplaceStop:
		if cmd.Index < 1 || cmd.Index > len(s.Candidates) {
			return invalid(invalidStopMessage(cmd.Index, len(s.Candidates)), menu)
		}
		found, exists := p.findPlace(ctx, s, cmd.Query, cmd.CategoryHint)
		if !exists {
			return collaboratorFailure(placeNotFoundMessage(cmd.Query), fmt.Errorf("no match for %q", cmd.Query))
		}
		i := cmd.Index - 1
		old := s.Candidates[i]
		s.Candidates[i] = found
		return p.regenerate(ctx, s, fmt.Sprintf("Replaced %s with %s.", old.Name, found.Name))

	case intent.AddPlace:
		found, exists := p.findPlace(ctx, s, cmd.Query, cmd.CategoryHint)
		if !exists {
			return collaboratorFailure(placeNotFoundMessage(cmd.Query), fmt.Errorf("no match for %q", cmd.Query))
		}
		s.Candidates = append(s.Candidates, found)
		action := fmt.Sprintf("Added %s.", found.Name)
		if len(s.Candidates) > models.MaxWaypoints {
			action = fmt.Sprintf("Added %s to your list. Only the first %d places are routed, so remove a stop to fit it in.", found.Name, models.MaxWaypoints)
		}
		return p.regenerate(ctx, s, action)

	case intent.ChangeMode:
		mode, err := intent.NormalizeMode(cmd.Mode)
		if err != nil {
			return invalid(unknownModeMessage(cmd.Mode), menu)
		}
		s.Preferences.TravelMode = mode
		return p.regenerate(ctx, s, fmt.Sprintf("Switched to %s.", mode))

	default:
		return invalid(helpMessage, menu)
	}
}

// regenerate rebuilds the itinerary from the session's hotel, candidates and mode.
// On failure the turn is reported as a collaborator failure and nothing is committed.
func (p *Planner) regenerate(ctx context.Context, s *models.Session, action string) turnResult {
	it, err := p.synth.Synthesize(ctx, itinerary.Request{
		Hotel:      *s.Hotel,
		Candidates: s.Candidates,
		Mode:       s.Preferences.TravelMode,
	})
	if err != nil {
		return collaboratorFailure(regenFailed, err)
	}
	s.Itinerary = it
	res := ok(updatedMessage(action), append([]string(nil), intent.MenuOptions...))
	res.itinerary = it
	return res
}

// findPlace looks up the single best match for an explicitly named place, skipping
// places already among the candidates. The rating threshold is not applied since the
// traveller asked for this place by name.
func (p *Planner) findPlace(ctx context.Context, s *models.Session, query, hint string) (models.Place, bool) {
	types := models.ExploreTypes
	if hint != "" {
		types = []string{hint}
	}
	found := p.catalog.Search(ctx, catalog.Query{
		Origin:       s.Hotel.Location(),
		RadiusMeters: s.Preferences.RadiusMeters(),
		Types:        types,
		Keywords:     []string{query},
		MaxResults:   1,
		Exclude:      s.CandidateIDs(),
	})
	if len(found) == 0 {
		return models.Place{}, false
	}
	return found[0], true
}
