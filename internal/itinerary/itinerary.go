// Package itinerary turns a hotel and a candidate collection into an ordered round trip.
package itinerary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TripPipe/internal/models"
)

var (
	// ErrNothingToRoute is returned when there are no candidates to visit.
	ErrNothingToRoute = errors.New("no places to route")
	// ErrNoRoute is returned when the route provider finds no route.
	ErrNoRoute = errors.New("no route found")
)

// RouteRequest asks for a loop from Origin through every waypoint and back to Origin.
type RouteRequest struct {
	Origin    models.LatLng
	Waypoints []models.LatLng
	Mode      models.TravelMode
}

// Route is the optimized route returned by the provider. WaypointOrder is a permutation
// of the request waypoint indices.
type Route struct {
	WaypointOrder []int
	Summary       string
	Legs          []models.Leg
}

// RouteOptimizer is the route-optimization collaborator.
type RouteOptimizer interface {
	OptimizeRoute(ctx context.Context, req RouteRequest) (*Route, error)
}

// Request is the input to a synthesis.
type Request struct {
	Hotel      models.Hotel
	Candidates []models.Place
	Mode       models.TravelMode
}

// Synthesizer builds itineraries through a RouteOptimizer.
type Synthesizer struct {
	router       RouteOptimizer
	maxWaypoints int
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(router RouteOptimizer) *Synthesizer {
	return &Synthesizer{router: router, maxWaypoints: models.MaxWaypoints}
}

// Synthesize visits the first few candidates in the order chosen by the route provider and
// returns to the hotel. The candidate collection itself is not modified.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*models.Itinerary, error) {
	if len(req.Candidates) == 0 {
		return nil, ErrNothingToRoute
	}
	waypoints := req.Candidates
	if len(waypoints) > s.maxWaypoints {
		waypoints = waypoints[:s.maxWaypoints]
	}

	coords := make([]models.LatLng, len(waypoints))
	for i, p := range waypoints {
		coords[i] = p.Location()
	}

	route, err := s.router.OptimizeRoute(ctx, RouteRequest{
		Origin:    req.Hotel.Location(),
		Waypoints: coords,
		Mode:      req.Mode,
	})
	if err != nil {
		return nil, fmt.Errorf("optimize route: %w", err)
	}
	if route == nil {
		return nil, ErrNoRoute
	}

	order := route.WaypointOrder
	if !isPermutation(order, len(waypoints)) {
		slog.Warn("Synthesizer.Synthesize: invalid waypoint order, keeping input order", "order", order, "waypoints", len(waypoints))
		order = identity(len(waypoints))
	}

	stops := make([]models.Place, 0, len(waypoints)+1)
	for _, idx := range order {
		stops = append(stops, waypoints[idx].Clone())
	}
	stops = append(stops, hotelStop(req.Hotel, route.Legs))

	slog.Debug("Synthesizer.Synthesize: itinerary built", "stops", len(stops), "legs", len(route.Legs), "mode", req.Mode)
	return &models.Itinerary{
		Stops:   stops,
		Summary: route.Summary,
		Legs:    append([]models.Leg(nil), route.Legs...),
	}, nil
}

func hotelStop(h models.Hotel, legs []models.Leg) models.Place {
	addr := h.FormattedAddress
	if len(legs) > 0 && legs[len(legs)-1].EndAddress != "" {
		addr = legs[len(legs)-1].EndAddress
	}
	return models.Place{
		ID:        models.HotelStopID,
		Name:      models.HotelStopName,
		Address:   addr,
		Latitude:  h.Latitude,
		Longitude: h.Longitude,
	}
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
