package models

// LatLng is a geographic coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TimePoint is one end of an opening period in provider numbering: Day 0 is Sunday.
type TimePoint struct {
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// MinuteOfDay returns the minutes elapsed since midnight.
func (tp TimePoint) MinuteOfDay() int {
	return tp.Hour*60 + tp.Minute
}

// OpeningPeriod is a single open interval. Close is nil for places open around the clock.
type OpeningPeriod struct {
	Open  TimePoint  `json:"open"`
	Close *TimePoint `json:"close,omitempty"`
}

// OpeningHours is the weekly schedule of a place.
type OpeningHours struct {
	Periods []OpeningPeriod `json:"periods"`
}

// Place is a candidate point of interest returned by the place-search provider.
// Places are treated as values: itinerary mutations add, remove or replace whole entries.
type Place struct {
	ID           string        `json:"place_id"`
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	Rating       *float64      `json:"rating,omitempty"`
	Types        []string      `json:"types,omitempty"`
	OpeningHours *OpeningHours `json:"opening_hours,omitempty"`
}

// Location returns the coordinates of the place.
func (p Place) Location() LatLng {
	return LatLng{Latitude: p.Latitude, Longitude: p.Longitude}
}

// RatingValue returns the rating, treating a missing rating as 0.
func (p Place) RatingValue() float64 {
	if p.Rating == nil {
		return 0
	}
	return *p.Rating
}

// Clone returns a deep copy of the place.
func (p Place) Clone() Place {
	out := p
	if p.Rating != nil {
		r := *p.Rating
		out.Rating = &r
	}
	if p.Types != nil {
		out.Types = append([]string(nil), p.Types...)
	}
	if p.OpeningHours != nil {
		oh := OpeningHours{Periods: make([]OpeningPeriod, len(p.OpeningHours.Periods))}
		for i, period := range p.OpeningHours.Periods {
			oh.Periods[i] = period
			if period.Close != nil {
				c := *period.Close
				oh.Periods[i].Close = &c
			}
		}
		out.OpeningHours = &oh
	}
	return out
}

// Hotel is the geocoded starting and ending point of every itinerary.
type Hotel struct {
	FormattedAddress string  `json:"formatted_address"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	PlaceID          string  `json:"place_id"`
}

// Location returns the coordinates of the hotel.
func (h Hotel) Location() LatLng {
	return LatLng{Latitude: h.Latitude, Longitude: h.Longitude}
}
