// Package testutil provides common test utilities and helpers for TripPipe tests.
//
// It includes in-memory fakes for the mapping collaborators so that the catalog builder,
// the synthesizer and the conversation planner can be exercised end to end without network access.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/itinerary"
	"github.com/BTreeMap/TripPipe/internal/models"
)

// Place builds a candidate place for tests. Coordinates are derived from the id length
// so that distinct places get distinct locations.
func Place(id, name string, rating float64, types ...string) models.Place {
	r := rating
	return models.Place{
		ID:        id,
		Name:      name,
		Address:   name + " address",
		Latitude:  40 + float64(len(id))/100,
		Longitude: -73 - float64(len(name))/100,
		Rating:    &r,
		Types:     types,
	}
}

// FakeGeocoder resolves addresses from a fixed table, matched case-insensitively.
type FakeGeocoder struct {
	Hotels map[string]models.Hotel
	Err    error
}

// Geocode implements the planner's geocoding collaborator.
func (g *FakeGeocoder) Geocode(ctx context.Context, address string) (models.Hotel, error) {
	if g.Err != nil {
		return models.Hotel{}, g.Err
	}
	for k, h := range g.Hotels {
		if strings.EqualFold(strings.TrimSpace(address), k) {
			return h, nil
		}
	}
	return models.Hotel{}, models.ErrAddressNotFound
}

// FakePlaceSearcher returns the places registered for each requested type, in
// registration order and without duplicates.
type FakePlaceSearcher struct {
	mu     sync.Mutex
	ByType map[string][]models.Place
	Err    error
	Calls  []catalog.NearbyRequest
}

var _ catalog.PlaceSearcher = (*FakePlaceSearcher)(nil)

// SearchNearby implements catalog.PlaceSearcher.
func (f *FakePlaceSearcher) SearchNearby(ctx context.Context, req catalog.NearbyRequest) ([]models.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
	if f.Err != nil {
		return nil, f.Err
	}
	seen := make(map[string]bool)
	var out []models.Place
	for _, typ := range req.Types {
		for _, p := range f.ByType[typ] {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p.Clone())
		}
	}
	if req.MaxResults > 0 && len(out) > req.MaxResults {
		out = out[:req.MaxResults]
	}
	return out, nil
}

// FakeRouteOptimizer answers every request with a route. By default the waypoint order is
// reversed so tests can tell optimized order from input order.
type FakeRouteOptimizer struct {
	mu       sync.Mutex
	Err      error
	NoRoute  bool
	Identity bool
	Calls    []itinerary.RouteRequest
}

var _ itinerary.RouteOptimizer = (*FakeRouteOptimizer)(nil)

// OptimizeRoute implements itinerary.RouteOptimizer.
func (f *FakeRouteOptimizer) OptimizeRoute(ctx context.Context, req itinerary.RouteRequest) (*itinerary.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.NoRoute {
		return nil, nil
	}
	n := len(req.Waypoints)
	order := make([]int, n)
	for i := range order {
		if f.Identity {
			order[i] = i
		} else {
			order[i] = n - 1 - i
		}
	}
	legs := make([]models.Leg, 0, n+1)
	prev := "Hotel"
	for i := 0; i < n; i++ {
		next := fmt.Sprintf("Stop %d", i+1)
		legs = append(legs, models.Leg{StartAddress: prev, EndAddress: next, Distance: "1.0 km", Duration: "12 mins"})
		prev = next
	}
	legs = append(legs, models.Leg{StartAddress: prev, EndAddress: "Hotel, returned", Distance: "1.0 km", Duration: "12 mins"})
	return &itinerary.Route{WaypointOrder: order, Summary: "via test streets", Legs: legs}, nil
}

// LastCall returns the most recent route request.
func (f *FakeRouteOptimizer) LastCall() itinerary.RouteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return itinerary.RouteRequest{}
	}
	return f.Calls[len(f.Calls)-1]
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON envelope response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
