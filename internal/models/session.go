package models

import "time"

// Step is the position of a session in the preference-collection dialogue.
type Step int

const (
	StepAwaitingItineraryType Step = iota
	StepAwaitingTravelMode
	StepAwaitingMaxDistance
	StepAwaitingHotel
	StepAwaitingCuisine
	// StepPostItinerary accepts follow-up commands that mutate the itinerary.
	StepPostItinerary
)

var stepNames = map[Step]string{
	StepAwaitingItineraryType: "awaiting_itinerary_type",
	StepAwaitingTravelMode:    "awaiting_travel_mode",
	StepAwaitingMaxDistance:   "awaiting_max_distance",
	StepAwaitingHotel:         "awaiting_hotel",
	StepAwaitingCuisine:       "awaiting_cuisine",
	StepPostItinerary:         "post_itinerary",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	if s > StepPostItinerary {
		return stepNames[StepPostItinerary]
	}
	return "unknown"
}

// Preferences holds the choices collected during the dialogue.
type Preferences struct {
	ItineraryType     ItineraryType `json:"itinerary_type,omitempty"`
	TravelMode        TravelMode    `json:"travel_mode,omitempty"`
	MaxDistanceKm     float64       `json:"max_distance_km,omitempty"`
	FoodKeywords      []string      `json:"food_keywords,omitempty"`
	AvailableCuisines []string      `json:"available_cuisines,omitempty"`
}

// RadiusMeters converts the maximum distance to meters.
func (p Preferences) RadiusMeters() float64 {
	return p.MaxDistanceKm * 1000
}

// Session is the server-held state of one conversation.
type Session struct {
	ID          string      `json:"id"`
	Step        Step        `json:"step"`
	Preferences Preferences `json:"preferences"`
	Hotel       *Hotel      `json:"hotel,omitempty"`
	Candidates  []Place     `json:"candidates,omitempty"`
	Itinerary   *Itinerary  `json:"itinerary,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewSession creates a session at the first step.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Step:      StepAwaitingItineraryType,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CandidateIDs returns the provider ids of the current candidates as a set.
func (s *Session) CandidateIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.Candidates))
	for _, c := range s.Candidates {
		ids[c.ID] = struct{}{}
	}
	return ids
}

// Clone returns a deep copy of the session. Turns operate on a clone and commit it whole.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Preferences.FoodKeywords = cloneStrings(s.Preferences.FoodKeywords)
	out.Preferences.AvailableCuisines = cloneStrings(s.Preferences.AvailableCuisines)
	if s.Hotel != nil {
		h := *s.Hotel
		out.Hotel = &h
	}
	if s.Candidates != nil {
		out.Candidates = make([]Place, len(s.Candidates))
		for i, c := range s.Candidates {
			out.Candidates[i] = c.Clone()
		}
	}
	if s.Itinerary != nil {
		out.Itinerary = s.Itinerary.Clone()
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
