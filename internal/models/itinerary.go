package models

// Leg is the travel between two consecutive stops.
type Leg struct {
	StartAddress string `json:"start_address"`
	EndAddress   string `json:"end_address"`
	Distance     string `json:"distance"`
	Duration     string `json:"duration"`
}

// Itinerary is an ordered loop of stops from and back to the hotel.
// The last stop is always the synthetic hotel stop.
type Itinerary struct {
	Stops   []Place `json:"ordered_places"`
	Summary string  `json:"summary"`
	Legs    []Leg   `json:"legs"`
}

// Clone returns a deep copy of the itinerary.
func (it *Itinerary) Clone() *Itinerary {
	if it == nil {
		return nil
	}
	out := &Itinerary{Summary: it.Summary}
	if it.Stops != nil {
		out.Stops = make([]Place, len(it.Stops))
		for i, s := range it.Stops {
			out.Stops[i] = s.Clone()
		}
	}
	if it.Legs != nil {
		out.Legs = append([]Leg(nil), it.Legs...)
	}
	return out
}

// ChatRequest is one inbound conversation turn.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the reply to a conversation turn. SessionID is always set and may
// differ from the request's when a new session was created.
type ChatResponse struct {
	SessionID string     `json:"session_id"`
	Reply     string     `json:"reply"`
	Options   []string   `json:"options,omitempty"`
	Itinerary *Itinerary `json:"itinerary,omitempty"`
}
