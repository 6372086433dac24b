package itinerary

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/BTreeMap/TripPipe/internal/models"
)

type fakeRouter struct {
	route *Route
	err   error
	got   RouteRequest
	calls int
}

func (f *fakeRouter) OptimizeRoute(ctx context.Context, req RouteRequest) (*Route, error) {
	f.calls++
	f.got = req
	return f.route, f.err
}

func candidates(n int) []models.Place {
	out := make([]models.Place, n)
	for i := range out {
		out[i] = models.Place{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Place %d", i), Latitude: float64(i), Longitude: float64(-i)}
	}
	return out
}

var hotel = models.Hotel{FormattedAddress: "1 Hotel Way", Latitude: 10, Longitude: 20, PlaceID: "h1"}

func TestSynthesizeOrdersByWaypointOrder(t *testing.T) {
	router := &fakeRouter{route: &Route{
		WaypointOrder: []int{2, 0, 1},
		Summary:       "Main St",
		Legs: []models.Leg{
			{StartAddress: "1 Hotel Way", EndAddress: "c"},
			{StartAddress: "c", EndAddress: "a"},
			{StartAddress: "a", EndAddress: "b"},
			{StartAddress: "b", EndAddress: "1 Hotel Way, City"},
		},
	}}
	s := NewSynthesizer(router)

	it, err := s.Synthesize(context.Background(), Request{Hotel: hotel, Candidates: candidates(3), Mode: models.TravelModeWalking})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	var ids []string
	for _, st := range it.Stops {
		ids = append(ids, st.ID)
	}
	if !reflect.DeepEqual(ids, []string{"p2", "p0", "p1", models.HotelStopID}) {
		t.Errorf("stop order = %v", ids)
	}
	last := it.Stops[len(it.Stops)-1]
	if last.Name != models.HotelStopName || last.Address != "1 Hotel Way, City" || last.Latitude != 10 || last.Longitude != 20 {
		t.Errorf("unexpected hotel stop %+v", last)
	}
	if it.Summary != "Main St" || len(it.Legs) != 4 {
		t.Errorf("summary/legs not carried over: %+v", it)
	}
	if router.got.Origin != hotel.Location() || router.got.Mode != models.TravelModeWalking {
		t.Errorf("unexpected route request %+v", router.got)
	}
}

func TestSynthesizeCapsWaypoints(t *testing.T) {
	router := &fakeRouter{route: &Route{WaypointOrder: []int{4, 3, 2, 1, 0}}}
	it, err := NewSynthesizer(router).Synthesize(context.Background(), Request{Hotel: hotel, Candidates: candidates(7)})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if len(router.got.Waypoints) != models.MaxWaypoints {
		t.Errorf("sent %d waypoints, want %d", len(router.got.Waypoints), models.MaxWaypoints)
	}
	if len(it.Stops) != models.MaxWaypoints+1 {
		t.Errorf("got %d stops, want %d", len(it.Stops), models.MaxWaypoints+1)
	}
	if it.Stops[0].ID != "p4" {
		t.Errorf("first stop = %s, want p4", it.Stops[0].ID)
	}
}

func TestSynthesizeHotelAddressFallback(t *testing.T) {
	router := &fakeRouter{route: &Route{WaypointOrder: []int{0}}}
	it, err := NewSynthesizer(router).Synthesize(context.Background(), Request{Hotel: hotel, Candidates: candidates(1)})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if got := it.Stops[len(it.Stops)-1].Address; got != hotel.FormattedAddress {
		t.Errorf("hotel stop address = %q, want %q", got, hotel.FormattedAddress)
	}
}

func TestSynthesizeInvalidOrderKeepsInputOrder(t *testing.T) {
	orders := [][]int{nil, {0, 0, 1}, {0, 1, 5}, {0, 1}}
	for _, order := range orders {
		router := &fakeRouter{route: &Route{WaypointOrder: order}}
		it, err := NewSynthesizer(router).Synthesize(context.Background(), Request{Hotel: hotel, Candidates: candidates(3)})
		if err != nil {
			t.Fatalf("order %v: Synthesize failed: %v", order, err)
		}
		if it.Stops[0].ID != "p0" || it.Stops[1].ID != "p1" || it.Stops[2].ID != "p2" {
			t.Errorf("order %v: expected input order, got %v", order, it.Stops)
		}
	}
}

func TestSynthesizeErrors(t *testing.T) {
	router := &fakeRouter{}
	s := NewSynthesizer(router)

	if _, err := s.Synthesize(context.Background(), Request{Hotel: hotel}); !errors.Is(err, ErrNothingToRoute) {
		t.Errorf("expected ErrNothingToRoute, got %v", err)
	}
	if router.calls != 0 {
		t.Error("route provider called with no candidates")
	}

	if _, err := s.Synthesize(context.Background(), Request{Hotel: hotel, Candidates: candidates(2)}); !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute for nil route, got %v", err)
	}

	boom := errors.New("over query limit")
	router.err = boom
	if _, err := s.Synthesize(context.Background(), Request{Hotel: hotel, Candidates: candidates(2)}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
}

func TestSynthesizeDoesNotAliasCandidates(t *testing.T) {
	cands := candidates(2)
	cands[0].Types = []string{"park"}
	router := &fakeRouter{route: &Route{WaypointOrder: []int{0, 1}}}
	it, err := NewSynthesizer(router).Synthesize(context.Background(), Request{Hotel: hotel, Candidates: cands})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	it.Stops[0].Types[0] = "zoo"
	if cands[0].Types[0] != "park" {
		t.Error("itinerary stops share memory with candidates")
	}
}
