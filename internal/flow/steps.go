package flow

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/intent"
	"github.com/BTreeMap/TripPipe/internal/itinerary"
	"github.com/BTreeMap/TripPipe/internal/models"
)

// stepHandler handles a message for one step of the dialogue.
type stepHandler func(p *Planner, ctx context.Context, s *models.Session, msg string) turnResult

var registry = map[models.Step]stepHandler{
	models.StepAwaitingItineraryType: (*Planner).handleItineraryType,
	models.StepAwaitingTravelMode:    (*Planner).handleTravelMode,
	models.StepAwaitingMaxDistance:   (*Planner).handleMaxDistance,
	models.StepAwaitingHotel:         (*Planner).handleHotel,
	models.StepAwaitingCuisine:       (*Planner).handleCuisine,
	models.StepPostItinerary:         (*Planner).handleFollowUp,
}

// handlerFor returns the handler of a step. Every step past the last setup step accepts follow-ups.
func handlerFor(step models.Step) stepHandler {
	if h, found := registry[step]; found {
		return h
	}
	return (*Planner).handleFollowUp
}

// stepOptions lists the choices offered at the session's current step.
func stepOptions(s *models.Session) []string {
	switch s.Step {
	case models.StepAwaitingItineraryType:
		return models.ItineraryTypeOptions()
	case models.StepAwaitingTravelMode:
		return models.TravelModeOptions()
	case models.StepAwaitingMaxDistance, models.StepAwaitingHotel:
		return nil
	case models.StepAwaitingCuisine:
		return cuisineOptions(s.Preferences.AvailableCuisines)
	default:
		return append([]string(nil), intent.MenuOptions...)
	}
}

// reprompt repeats the question of the current step.
func (p *Planner) reprompt(s *models.Session) turnResult {
	switch s.Step {
	case models.StepAwaitingItineraryType:
		return invalid(itineraryTypePrompt, stepOptions(s))
	case models.StepAwaitingTravelMode:
		return invalid(travelModePrompt, stepOptions(s))
	case models.StepAwaitingMaxDistance:
		return invalid(maxDistancePrompt, nil)
	case models.StepAwaitingHotel:
		return invalid(hotelPrompt, nil)
	case models.StepAwaitingCuisine:
		return invalid(cuisinePrompt(s.Preferences.AvailableCuisines), stepOptions(s))
	default:
		return invalid(helpMessage, stepOptions(s))
	}
}

func (p *Planner) handleItineraryType(ctx context.Context, s *models.Session, msg string) turnResult {
	t, err := models.ParseItineraryType(msg)
	if err != nil {
		return invalid(itineraryTypePrompt, models.ItineraryTypeOptions())
	}
	s.Preferences.ItineraryType = t
	s.Step = models.StepAwaitingTravelMode
	return ok(travelModeQuestion, models.TravelModeOptions())
}

func (p *Planner) handleTravelMode(ctx context.Context, s *models.Session, msg string) turnResult {
	m, err := models.ParseTravelMode(msg)
	if err != nil {
		return invalid(travelModePrompt, models.TravelModeOptions())
	}
	s.Preferences.TravelMode = m
	s.Step = models.StepAwaitingMaxDistance
	return ok(maxDistanceQuestion, nil)
}

func (p *Planner) handleMaxDistance(ctx context.Context, s *models.Session, msg string) turnResult {
	km, valid := parseKilometers(msg)
	if !valid {
		return invalid(maxDistancePrompt, nil)
	}
	s.Preferences.MaxDistanceKm = km
	s.Step = models.StepAwaitingHotel
	return ok(hotelQuestion, nil)
}

func (p *Planner) handleHotel(ctx context.Context, s *models.Session, msg string) turnResult {
	hotel, err := p.geocoder.Geocode(ctx, msg)
	if errors.Is(err, models.ErrAddressNotFound) {
		return invalid(hotelNotFoundMessage, nil)
	}
	if err != nil {
		return collaboratorFailure(geocodeFailedMessage, err)
	}

	s.Hotel = &hotel
	cuisines := p.catalog.ProbeCuisines(ctx, hotel.Location(), s.Preferences.RadiusMeters())
	s.Preferences.AvailableCuisines = cuisines
	s.Step = models.StepAwaitingCuisine
	slog.Debug("Planner.handleHotel: hotel resolved", "session_id", s.ID, "place_id", hotel.PlaceID, "cuisines", len(cuisines))
	return ok(hotelFoundMessage(hotel)+cuisinePrompt(cuisines), cuisineOptions(cuisines))
}

func (p *Planner) handleCuisine(ctx context.Context, s *models.Session, msg string) turnResult {
	offered := s.Preferences.AvailableCuisines
	selection, matched := matchCuisines(msg, offered)
	if !matched {
		return invalid(cuisineMismatchMessage+cuisinePrompt(offered), cuisineOptions(offered))
	}
	if s.Hotel == nil {
		return turnResult{outcome: OutcomeInternal, reply: genericErrorMessage, err: errors.New("cuisine step reached without a hotel")}
	}

	q := catalog.Query{
		Origin:       s.Hotel.Location(),
		RadiusMeters: s.Preferences.RadiusMeters(),
		MinRating:    p.minRating,
		At:           p.openAt(),
		MaxResults:   models.MaxCandidates,
	}
	keywords := make([]string, 0, len(selection))
	for _, c := range selection {
		if c != catalog.AnyRestaurantLabel {
			keywords = append(keywords, c)
		}
	}
	switch {
	case len(keywords) > 0:
		q.Keywords = keywords
	case len(selection) > 0:
		q.Types = models.DefaultFoodTypes
	default:
		q.Types = s.Preferences.ItineraryType.Categories()
	}

	candidates := p.catalog.Search(ctx, q)
	it, err := p.synth.Synthesize(ctx, itinerary.Request{Hotel: *s.Hotel, Candidates: candidates, Mode: s.Preferences.TravelMode})
	if err != nil {
		if errors.Is(err, itinerary.ErrNothingToRoute) {
			return collaboratorFailure(noCandidatesMessage, err)
		}
		return collaboratorFailure(noRouteMessage, err)
	}

	s.Preferences.FoodKeywords = selection
	s.Candidates = candidates
	s.Itinerary = it
	s.Step = models.StepPostItinerary
	res := ok(itineraryReadyMessage(it), append([]string(nil), intent.MenuOptions...))
	res.itinerary = it
	return res
}

// parseKilometers accepts a positive finite number, optionally followed by "km".
func parseKilometers(msg string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(msg))
	for _, suffix := range []string{"kilometers", "kilometres", "km"} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}
	km, err := strconv.ParseFloat(s, 64)
	if err != nil || km <= 0 || math.IsInf(km, 0) || math.IsNaN(km) {
		return 0, false
	}
	return km, true
}

// matchCuisines resolves a comma-separated selection against the offered labels.
// "none" selects nothing. An entry also matches a label that is the entry followed by
// " restaurant", so "Italian" selects "Italian Restaurant". Matches use the offered label.
func matchCuisines(msg string, offered []string) ([]string, bool) {
	if strings.EqualFold(strings.TrimSpace(msg), "none") {
		return []string{}, true
	}
	selection := []string{}
	seen := make(map[string]bool)
	for _, entry := range strings.Split(msg, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		for _, label := range offered {
			if strings.EqualFold(entry, label) || strings.EqualFold(entry+" restaurant", label) {
				if !seen[label] {
					seen[label] = true
					selection = append(selection, label)
				}
				break
			}
		}
	}
	if len(selection) == 0 {
		return nil, false
	}
	return selection, true
}

func cuisineOptions(cuisines []string) []string {
	opts := append([]string(nil), cuisines...)
	return append(opts, "none")
}
