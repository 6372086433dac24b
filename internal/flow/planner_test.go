package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/itinerary"
	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/session"
	"github.com/BTreeMap/TripPipe/internal/store"
	"github.com/BTreeMap/TripPipe/internal/testutil"
)

var plaza = models.Hotel{
	FormattedAddress: "768 5th Ave, New York, NY 10019",
	Latitude:         40.7646,
	Longitude:        -73.9743,
	PlaceID:          "plaza",
}

type harness struct {
	planner  *Planner
	sessions *session.Store
	searcher *testutil.FakePlaceSearcher
	router   *testutil.FakeRouteOptimizer
	geocoder *testutil.FakeGeocoder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		sessions: session.NewStore(),
		searcher: &testutil.FakePlaceSearcher{ByType: map[string][]models.Place{
			"restaurant": {
				testutil.Place("luigi", "Luigi's Trattoria", 4.5, "restaurant", "italian_restaurant"),
				testutil.Place("taco", "Taco Spot", 4.2, "restaurant", "mexican_restaurant"),
				testutil.Place("sushi", "Sushi Den", 4.8, "restaurant", "japanese_restaurant"),
				testutil.Place("diner", "Low Diner", 3.0, "restaurant", "american_restaurant"),
			},
			"cafe":          {testutil.Place("bean", "Bean Cafe", 4.3, "cafe")},
			"park":          {testutil.Place("central", "Central Park", 4.9, "park")},
			"museum":        {testutil.Place("met", "The Met", 4.7, "museum")},
			"bowling_alley": {testutil.Place("lanes", "Lucky Lanes", 4.1, "bowling_alley")},
		}},
		router:   &testutil.FakeRouteOptimizer{},
		geocoder: &testutil.FakeGeocoder{Hotels: map[string]models.Hotel{"The Plaza": plaza}},
	}
	h.planner = NewPlanner(h.sessions, h.geocoder, catalog.NewBuilder(h.searcher), itinerary.NewSynthesizer(h.router), opts...)
	return h
}

func (h *harness) say(t *testing.T, id, msg string) models.ChatResponse {
	t.Helper()
	return h.planner.HandleTurn(context.Background(), models.ChatRequest{SessionID: id, Message: msg})
}

func (h *harness) session(t *testing.T, id string) *models.Session {
	t.Helper()
	s, err := h.sessions.Get(id)
	if err != nil {
		t.Fatalf("session %s not found: %v", id, err)
	}
	return s
}

// planTo walks a new session through setup with the given answers and returns its id.
func (h *harness) planTo(t *testing.T, answers ...string) string {
	t.Helper()
	id := h.say(t, "", "").SessionID
	for _, a := range answers {
		resp := h.say(t, id, a)
		if resp.SessionID != id {
			t.Fatalf("session id changed from %s to %s after %q", id, resp.SessionID, a)
		}
	}
	return id
}

func stopIDs(it *models.Itinerary) []string {
	if it == nil {
		return nil
	}
	ids := make([]string, len(it.Stops))
	for i, s := range it.Stops {
		ids[i] = s.ID
	}
	return ids
}

func TestFullDialogue(t *testing.T) {
	h := newHarness(t)

	first := h.say(t, "", "hi")
	if first.SessionID == "" || first.Reply != welcomeMessage {
		t.Fatalf("unexpected welcome %+v", first)
	}
	if strings.Join(first.Options, ",") != "activities,tourist,foodie,custom" {
		t.Errorf("options = %v", first.Options)
	}
	id := first.SessionID

	steps := []struct {
		msg      string
		contains string
		step     models.Step
	}{
		{"Foodie", "getting around", models.StepAwaitingTravelMode},
		{"walking", "how far", models.StepAwaitingMaxDistance},
		{"2 km", "hotel", models.StepAwaitingHotel},
		{"the plaza", "Italian Restaurant", models.StepAwaitingCuisine},
		{"Italian, Mexican", "itinerary with 2 stops", models.StepPostItinerary},
	}
	var last models.ChatResponse
	for _, st := range steps {
		last = h.say(t, id, st.msg)
		if !strings.Contains(strings.ToLower(last.Reply), strings.ToLower(st.contains)) {
			t.Errorf("reply to %q = %q, want it to contain %q", st.msg, last.Reply, st.contains)
		}
		if got := h.session(t, id).Step; got != st.step {
			t.Errorf("after %q step = %s, want %s", st.msg, got, st.step)
		}
	}

	s := h.session(t, id)
	if s.Preferences.ItineraryType != models.ItineraryTypeFoodie || s.Preferences.TravelMode != models.TravelModeWalking {
		t.Errorf("unexpected preferences %+v", s.Preferences)
	}
	if s.Preferences.MaxDistanceKm != 2 || s.Preferences.RadiusMeters() != 2000 {
		t.Errorf("max distance = %v", s.Preferences.MaxDistanceKm)
	}
	if got := strings.Join(s.Preferences.FoodKeywords, ","); got != "Italian Restaurant,Mexican Restaurant" {
		t.Errorf("food keywords = %q", got)
	}
	want := []string{"taco", "luigi", models.HotelStopID}
	if got := stopIDs(last.Itinerary); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("stops = %v, want %v", got, want)
	}
	if last.Itinerary.Stops[2].Address != "Hotel, returned" {
		t.Errorf("hotel stop address = %q", last.Itinerary.Stops[2].Address)
	}
	if len(last.Options) != 5 {
		t.Errorf("expected follow-up menu, got %v", last.Options)
	}
	if mode := h.router.LastCall().Mode; mode != models.TravelModeWalking {
		t.Errorf("route mode = %q", mode)
	}

	done := h.say(t, id, "looks good")
	if done.Reply != closingMessage {
		t.Errorf("closing reply = %q", done.Reply)
	}
}

func TestSetupValidation(t *testing.T) {
	h := newHarness(t)
	id := h.planTo(t)

	tests := []struct {
		name  string
		setup []string
		msg   string
		reply string
		step  models.Step
	}{
		{"unknown itinerary type", nil, "spa day", itineraryTypePrompt, models.StepAwaitingItineraryType},
		{"unknown travel mode", []string{"tourist"}, "teleport", travelModePrompt, models.StepAwaitingTravelMode},
		{"negative distance", []string{"walking"}, "-3", maxDistancePrompt, models.StepAwaitingMaxDistance},
		{"zero distance", nil, "0", maxDistancePrompt, models.StepAwaitingMaxDistance},
		{"not a number", nil, "far", maxDistancePrompt, models.StepAwaitingMaxDistance},
		{"infinite distance", nil, "Inf", maxDistancePrompt, models.StepAwaitingMaxDistance},
		{"unknown hotel", []string{"3"}, "Nowhere Inn", hotelNotFoundMessage, models.StepAwaitingHotel},
		{"empty message", nil, "   ", hotelPrompt, models.StepAwaitingHotel},
	}
	for _, tt := range tests {
		for _, m := range tt.setup {
			h.say(t, id, m)
		}
		resp := h.say(t, id, tt.msg)
		if resp.Reply != tt.reply {
			t.Errorf("%s: reply = %q, want %q", tt.name, resp.Reply, tt.reply)
		}
		if got := h.session(t, id).Step; got != tt.step {
			t.Errorf("%s: step = %s, want %s", tt.name, got, tt.step)
		}
	}
}

func TestGeocoderFailure(t *testing.T) {
	h := newHarness(t)
	id := h.planTo(t, "tourist", "driving", "5")
	h.geocoder.Err = errors.New("quota exceeded")

	resp := h.say(t, id, "The Plaza")
	if resp.Reply != geocodeFailedMessage {
		t.Errorf("reply = %q", resp.Reply)
	}
	s := h.session(t, id)
	if s.Step != models.StepAwaitingHotel || s.Hotel != nil {
		t.Errorf("session changed after geocoder failure: step=%s hotel=%v", s.Step, s.Hotel)
	}
}

func TestCuisineSelection(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		answer   string
		step     models.Step
		keywords []string
		stops    []string
	}{
		{"none uses itinerary categories", "foodie", "none", models.StepPostItinerary, []string{}, []string{"bean", "sushi", "taco", "luigi"}},
		{"none on activities", "activities", "NONE", models.StepPostItinerary, []string{}, []string{"central", "lanes"}},
		{"single cuisine", "custom", "japanese", models.StepPostItinerary, []string{"Japanese Restaurant"}, []string{"sushi"}},
		{"full label", "foodie", "Mexican Restaurant", models.StepPostItinerary, []string{"Mexican Restaurant"}, []string{"taco"}},
		{"no match stays", "foodie", "Thai", models.StepAwaitingCuisine, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.planTo(t, tt.kind, "walking", "2", "The Plaza")
			resp := h.say(t, id, tt.answer)
			s := h.session(t, id)
			if s.Step != tt.step {
				t.Fatalf("step = %s, want %s (reply %q)", s.Step, tt.step, resp.Reply)
			}
			if tt.step == models.StepAwaitingCuisine {
				if !strings.HasPrefix(resp.Reply, cuisineMismatchMessage) {
					t.Errorf("reply = %q", resp.Reply)
				}
				if s.Itinerary != nil || s.Candidates != nil {
					t.Error("mismatch must not build an itinerary")
				}
				return
			}
			if strings.Join(s.Preferences.FoodKeywords, ",") != strings.Join(tt.keywords, ",") {
				t.Errorf("keywords = %v, want %v", s.Preferences.FoodKeywords, tt.keywords)
			}
			got := stopIDs(s.Itinerary)
			if len(got) != len(tt.stops)+1 || got[len(got)-1] != models.HotelStopID {
				t.Fatalf("stops = %v", got)
			}
			if strings.Join(got[:len(got)-1], ",") != strings.Join(tt.stops, ",") {
				t.Errorf("stops = %v, want %v", got[:len(got)-1], tt.stops)
			}
		})
	}
}

func TestCuisineNoCandidates(t *testing.T) {
	h := newHarness(t)
	id := h.planTo(t, "foodie", "walking", "2", "The Plaza")
	h.searcher.ByType = map[string][]models.Place{}

	resp := h.say(t, id, "italian")
	if resp.Reply != noCandidatesMessage {
		t.Errorf("reply = %q", resp.Reply)
	}
	if s := h.session(t, id); s.Step != models.StepAwaitingCuisine || s.Itinerary != nil {
		t.Errorf("session advanced without candidates: %s", s.Step)
	}
}

func TestCuisineNoRoute(t *testing.T) {
	h := newHarness(t)
	id := h.planTo(t, "foodie", "walking", "2", "The Plaza")
	h.router.NoRoute = true

	resp := h.say(t, id, "none")
	if resp.Reply != noRouteMessage || resp.Itinerary != nil {
		t.Errorf("unexpected response %+v", resp)
	}
	if s := h.session(t, id); s.Step != models.StepAwaitingCuisine || s.Candidates != nil {
		t.Errorf("session changed after routing failure")
	}
}

func TestProbeFallsBackToAnyRestaurant(t *testing.T) {
	h := newHarness(t)
	h.searcher.ByType["restaurant"] = []models.Place{testutil.Place("plain", "Plain Eats", 4.4, "restaurant")}
	id := h.planTo(t, "custom", "walking", "2")

	resp := h.say(t, id, "The Plaza")
	if strings.Join(resp.Options, ",") != catalog.AnyRestaurantLabel+",none" {
		t.Fatalf("options = %v", resp.Options)
	}
	h.say(t, id, "any restaurant")
	s := h.session(t, id)
	if s.Step != models.StepPostItinerary {
		t.Fatalf("step = %s", s.Step)
	}
	got := stopIDs(s.Itinerary)
	if strings.Join(got, ",") != "bean,plain,hotel" {
		t.Errorf("stops = %v", got)
	}
}

func TestUniversalCommands(t *testing.T) {
	h := newHarness(t)
	answers := []string{"foodie", "walking", "2", "The Plaza", "none"}
	for n := 0; n <= len(answers); n++ {
		id := h.planTo(t, answers[:n]...)
		step := models.Step(n)

		show := h.say(t, id, "show itinerary")
		if show.SessionID != id {
			t.Errorf("step %s: show itinerary changed session", step)
		}
		if got := h.session(t, id).Step; got != step {
			t.Errorf("show itinerary moved step %s to %s", step, got)
		}
		if step < models.StepPostItinerary {
			if show.Reply != notReadyMessage || show.Itinerary != nil {
				t.Errorf("step %s: unexpected show reply %+v", step, show)
			}
		} else if show.Itinerary == nil || len(show.Itinerary.Stops) != 5 {
			t.Errorf("step %s: expected itinerary, got %+v", step, show.Itinerary)
		}

		reset := h.say(t, id, "Start over!")
		if reset.SessionID == id || reset.SessionID == "" {
			t.Errorf("step %s: reset kept session id %q", step, reset.SessionID)
		}
		if !strings.HasPrefix(reset.Reply, resetMessage) {
			t.Errorf("step %s: reset reply = %q", step, reset.Reply)
		}
		if _, err := h.sessions.Get(id); !errors.Is(err, session.ErrNotFound) {
			t.Errorf("step %s: old session still present", step)
		}
		if got := h.session(t, reset.SessionID).Step; got != models.StepAwaitingItineraryType {
			t.Errorf("step %s: new session at %s", step, got)
		}
	}
}

func TestUnknownSessionStartsOver(t *testing.T) {
	h := newHarness(t)
	resp := h.say(t, "no-such-session", "foodie")
	if resp.SessionID == "" || resp.SessionID == "no-such-session" {
		t.Fatalf("session id = %q", resp.SessionID)
	}
	if !strings.HasPrefix(resp.Reply, expiredMessage) {
		t.Errorf("reply = %q", resp.Reply)
	}
	if h.session(t, resp.SessionID).Step != models.StepAwaitingItineraryType {
		t.Error("new session should start at the first step")
	}
}

func TestClearedSessionStartsOver(t *testing.T) {
	h := newHarness(t)
	id := h.planTo(t, "foodie")
	h.planner.ClearSession(id)
	h.planner.ClearSession(id)

	resp := h.say(t, id, "walking")
	if resp.SessionID == id || !strings.HasPrefix(resp.Reply, expiredMessage) {
		t.Errorf("unexpected response %+v", resp)
	}
}

type panickingSynth struct{}

func (panickingSynth) Synthesize(ctx context.Context, req itinerary.Request) (*models.Itinerary, error) {
	panic("boom")
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.planner.synth = panickingSynth{}
	id := h.planTo(t, "foodie", "walking", "2", "The Plaza")

	resp := h.say(t, id, "none")
	if resp.Reply != genericErrorMessage || resp.SessionID != id {
		t.Errorf("unexpected response %+v", resp)
	}
	s := h.session(t, id)
	if s.Step != models.StepAwaitingCuisine || s.Preferences.FoodKeywords != nil {
		t.Errorf("panicking turn leaked changes: %+v", s)
	}
}

func TestTurnLog(t *testing.T) {
	log := store.NewInMemoryStore()
	h := newHarness(t, WithTurnLog(log))

	id := h.say(t, "", "").SessionID
	h.say(t, id, "foodie")
	h.say(t, id, "teleport")

	turns, err := log.ListTurns(context.Background(), id)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	want := []struct {
		step    string
		outcome Outcome
	}{
		{"awaiting_itinerary_type", OutcomeOK},
		{"awaiting_itinerary_type", OutcomeOK},
		{"awaiting_travel_mode", OutcomeValidation},
	}
	for i, w := range want {
		if turns[i].Step != w.step || turns[i].Outcome != string(w.outcome) {
			t.Errorf("turn %d = %+v, want step %s outcome %s", i, turns[i], w.step, w.outcome)
		}
	}
	if turns[2].Message != "teleport" || turns[2].Reply != travelModePrompt {
		t.Errorf("turn content not recorded: %+v", turns[2])
	}
}

func TestOpenNowOnly(t *testing.T) {
	monday10am := time.Date(2024, time.June, 3, 10, 0, 0, 0, time.UTC)
	h := newHarness(t, WithOpenNowOnly(true), WithClock(func() time.Time { return monday10am }))
	night := testutil.Place("owl", "Night Owl Eatery", 4.9, "restaurant", "italian_restaurant")
	night.OpeningHours = &models.OpeningHours{Periods: []models.OpeningPeriod{
		{Open: models.TimePoint{Day: 1, Hour: 20}, Close: &models.TimePoint{Day: 2, Hour: 2}},
	}}
	allHours := testutil.Place("allhours", "Round The Clock Pasta", 4.4, "restaurant", "italian_restaurant")
	allHours.OpeningHours = &models.OpeningHours{Periods: []models.OpeningPeriod{{Open: models.TimePoint{Day: 0}}}}
	h.searcher.ByType["restaurant"] = append(h.searcher.ByType["restaurant"], night, allHours)

	id := h.planTo(t, "foodie", "walking", "2", "The Plaza", "italian")
	keptAllHours := false
	for _, p := range h.session(t, id).Candidates {
		if p.ID == "owl" {
			t.Error("closed place should be filtered out")
		}
		if p.ID == "allhours" {
			keptAllHours = true
		}
	}
	if !keptAllHours {
		t.Error("place open around the clock should be kept on a Monday")
	}
}

func TestMinRatingOption(t *testing.T) {
	h := newHarness(t, WithMinRating(4.6))
	id := h.planTo(t, "foodie", "walking", "2", "The Plaza", "none")
	got := stopIDs(h.session(t, id).Itinerary)
	if strings.Join(got, ",") != "sushi,hotel" {
		t.Errorf("stops = %v", got)
	}
}

func TestConcurrentTurns(t *testing.T) {
	h := newHarness(t)
	const n = 20
	ids := make([]string, n)
	for i := range ids {
		ids[i] = h.planTo(t, "foodie", "walking", "2", "The Plaza")
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			h.say(t, id, "none")
		}(ids[i])
		go func(id string) {
			defer wg.Done()
			h.say(t, id, "show itinerary")
		}(ids[i])
	}
	wg.Wait()

	for _, id := range ids {
		s := h.session(t, id)
		if s.Step != models.StepPostItinerary || len(s.Itinerary.Stops) != 5 {
			t.Errorf("session %s: step %s", id, s.Step)
		}
	}
	if got := h.planner.ActiveSessions(); got != n {
		t.Errorf("active sessions = %d, want %d", got, n)
	}
}

func TestParseKilometers(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"2", 2, true},
		{"3.5 km", 3.5, true},
		{"10km", 10, true},
		{"1.5 Kilometers", 1.5, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"NaN", 0, false},
		{"two", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseKilometers(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseKilometers(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMatchCuisines(t *testing.T) {
	offered := []string{"Italian Restaurant", "Mexican Restaurant", "Pizza"}
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"none", "", true},
		{"Italian", "Italian Restaurant", true},
		{"italian, pizza, Italian Restaurant", "Italian Restaurant,Pizza", true},
		{"thai, mexican", "Mexican Restaurant", true},
		{"thai", "", false},
		{" , ", "", false},
	}
	for _, tt := range tests {
		got, ok := matchCuisines(tt.in, offered)
		if ok != tt.ok || strings.Join(got, ",") != tt.want {
			t.Errorf("matchCuisines(%q) = %v, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func ExamplePlanner_HandleTurn() {
	sessions := session.NewStore(session.WithIDGenerator(func() string { return "demo" }))
	p := NewPlanner(sessions, &testutil.FakeGeocoder{}, catalog.NewBuilder(&testutil.FakePlaceSearcher{}),
		itinerary.NewSynthesizer(&testutil.FakeRouteOptimizer{}))

	resp := p.HandleTurn(context.Background(), models.ChatRequest{})
	fmt.Println(resp.SessionID)
	fmt.Println(resp.Options)
	// Output:
	// demo
	// [activities tourist foodie custom]
}
