// Package models defines the core data structures for TripPipe.
//
// It includes the per-conversation session, the user's preferences, candidate places,
// synthesized itineraries and the conversation request/response contract shared across modules.
package models

import (
	"errors"
	"strings"
)

// ItineraryType selects which categories of places an itinerary is built from.
type ItineraryType string

const (
	// ItineraryTypeActivities favours parks, amusement and leisure venues.
	ItineraryTypeActivities ItineraryType = "activities"
	// ItineraryTypeTourist favours museums, landmarks and attractions.
	ItineraryTypeTourist ItineraryType = "tourist"
	// ItineraryTypeFoodie favours restaurants, cafes and bars.
	ItineraryTypeFoodie ItineraryType = "foodie"
	// ItineraryTypeCustom has no fixed categories and is driven by cuisine keywords.
	ItineraryTypeCustom ItineraryType = "custom"
)

// ItineraryTypes lists the itinerary types in the order they are offered to the user.
var ItineraryTypes = []ItineraryType{
	ItineraryTypeActivities,
	ItineraryTypeTourist,
	ItineraryTypeFoodie,
	ItineraryTypeCustom,
}

// TravelMode is the mode of travel used between stops.
type TravelMode string

const (
	TravelModeWalking   TravelMode = "walking"
	TravelModeDriving   TravelMode = "driving"
	TravelModeTransit   TravelMode = "transit"
	TravelModeBicycling TravelMode = "bicycling"
)

// TravelModes lists the travel modes in the order they are offered to the user.
var TravelModes = []TravelMode{
	TravelModeWalking,
	TravelModeDriving,
	TravelModeTransit,
	TravelModeBicycling,
}

// Place category sets used when querying the place-search provider.
var (
	// DefaultFoodTypes is used for keyword (cuisine) searches without explicit categories.
	DefaultFoodTypes = []string{"restaurant", "cafe"}
	// ExploreTypes is a broad mix used when no narrower category applies.
	ExploreTypes = []string{"restaurant", "cafe", "tourist_attraction", "museum", "park"}
)

// itineraryCategories maps each itinerary type to the place types it searches.
var itineraryCategories = map[ItineraryType][]string{
	ItineraryTypeActivities: {"bowling_alley", "amusement_park", "park", "cultural_landmark"},
	ItineraryTypeTourist:    {"tourist_attraction", "museum", "historical_place", "cultural_landmark", "art_gallery", "historical_landmark"},
	ItineraryTypeFoodie:     {"restaurant", "cafe", "bar"},
	ItineraryTypeCustom:     {},
}

// Itinerary construction limits.
const (
	// MaxCandidates caps the candidate collection built after cuisine selection.
	MaxCandidates = 7
	// MaxWaypoints caps how many candidates become waypoints of a route.
	MaxWaypoints = 5
	// DefaultMinRating is the rating threshold applied to place searches.
	DefaultMinRating = 4.0
	// HotelStopID identifies the synthetic terminal stop of every itinerary.
	HotelStopID = "hotel"
	// HotelStopName is the display name of the synthetic terminal stop.
	HotelStopName = "Hotel"
)

// Error variables for validation of user supplied choices.
var (
	ErrInvalidItineraryType = errors.New("invalid itinerary type")
	ErrInvalidTravelMode    = errors.New("invalid travel mode")
	// ErrAddressNotFound is returned by geocoders when an address has no match.
	ErrAddressNotFound = errors.New("address not found")
)

// ParseItineraryType matches user input case-insensitively against the fixed itinerary types.
func ParseItineraryType(s string) (ItineraryType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range ItineraryTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrInvalidItineraryType
}

// Categories returns the place types searched for this itinerary type.
// The custom type has no categories of its own and falls back to ExploreTypes.
func (t ItineraryType) Categories() []string {
	cats := itineraryCategories[t]
	if len(cats) == 0 {
		return append([]string(nil), ExploreTypes...)
	}
	return append([]string(nil), cats...)
}

// ParseTravelMode matches user input case-insensitively against the fixed travel modes.
func ParseTravelMode(s string) (TravelMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, m := range TravelModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", ErrInvalidTravelMode
}

// ItineraryTypeOptions returns the itinerary types as reply options.
func ItineraryTypeOptions() []string {
	opts := make([]string, 0, len(ItineraryTypes))
	for _, t := range ItineraryTypes {
		opts = append(opts, string(t))
	}
	return opts
}

// TravelModeOptions returns the travel modes as reply options.
func TravelModeOptions() []string {
	opts := make([]string, 0, len(TravelModes))
	for _, m := range TravelModes {
		opts = append(opts, string(m))
	}
	return opts
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
