package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/flow"
	"github.com/BTreeMap/TripPipe/internal/itinerary"
	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/session"
	"github.com/BTreeMap/TripPipe/internal/store"
	"github.com/BTreeMap/TripPipe/internal/testutil"
)

// stubPlanner echoes messages and tracks cleared sessions.
type stubPlanner struct {
	mu      sync.Mutex
	cleared []string
	last    models.ChatRequest
}

func (p *stubPlanner) HandleTurn(ctx context.Context, req models.ChatRequest) models.ChatResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = req
	id := req.SessionID
	if id == "" {
		id = "new-session"
	}
	return models.ChatResponse{SessionID: id, Reply: "echo: " + req.Message, Options: []string{"a", "b"}}
}

func (p *stubPlanner) ClearSession(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, id)
}

func (p *stubPlanner) ActiveSessions() int { return 3 }

type failingTurnLog struct{}

func (failingTurnLog) RecordTurn(ctx context.Context, rec store.TurnRecord) error { return nil }
func (failingTurnLog) ListTurns(ctx context.Context, sessionID string) ([]store.TurnRecord, error) {
	return nil, errors.New("database is locked")
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestChatHandler(t *testing.T) {
	planner := &stubPlanner{}
	h := NewServer(planner, nil, WithRateLimit(0, 0)).Handler()

	rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{SessionID: " abc ", Message: "foodie"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")

	var resp models.ChatResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.SessionID != "abc" || resp.Reply != "echo: foodie" || len(resp.Options) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if planner.last.SessionID != "abc" {
		t.Errorf("session id should be trimmed, got %q", planner.last.SessionID)
	}
}

func TestChatHandlerErrors(t *testing.T) {
	h := NewServer(&stubPlanner{}, nil, WithRateLimit(0, 0)).Handler()

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, `{"message":`, http.StatusBadRequest},
		{"wrong type", http.MethodPost, `{"message": 5}`, http.StatusBadRequest},
		{"too large", http.MethodPost, `{"message":"` + strings.Repeat("x", maxBodyBytes) + `"}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/chat", strings.NewReader(tt.body))
			rr := serve(h, req)
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
		})
	}
}

func TestClearSessionHandler(t *testing.T) {
	planner := &stubPlanner{}
	h := NewServer(planner, nil).Handler()

	rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodDelete, "/sessions/s-42", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete session")
	resp := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	if resp["message"] != "Session cleared" {
		t.Errorf("unexpected message %v", resp["message"])
	}
	if len(planner.cleared) != 1 || planner.cleared[0] != "s-42" {
		t.Errorf("cleared = %v", planner.cleared)
	}
}

func TestTurnsHandler(t *testing.T) {
	log := store.NewInMemoryStore()
	ctx := context.Background()
	_ = log.RecordTurn(ctx, store.TurnRecord{SessionID: "s1", Step: "awaiting_itinerary_type", Reply: "Welcome", Outcome: "ok"})
	_ = log.RecordTurn(ctx, store.TurnRecord{SessionID: "s1", Step: "awaiting_itinerary_type", Message: "foodie", Reply: "How?", Outcome: "ok"})

	tests := []struct {
		name      string
		turns     store.TurnLog
		path      string
		want      int
		wantTurns int
	}{
		{"known session", log, "/sessions/s1/turns", http.StatusOK, 2},
		{"unknown session", log, "/sessions/nope/turns", http.StatusOK, 0},
		{"log disabled", nil, "/sessions/s1/turns", http.StatusNotFound, -1},
		{"log failure", failingTurnLog{}, "/sessions/s1/turns", http.StatusInternalServerError, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(&stubPlanner{}, tt.turns).Handler()
			rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, tt.path, nil))
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			if tt.wantTurns < 0 {
				testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
				return
			}
			var env struct {
				Status string             `json:"status"`
				Result []store.TurnRecord `json:"result"`
			}
			testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &env)
			if env.Status != string(models.APIStatusOK) || len(env.Result) != tt.wantTurns {
				t.Errorf("got status %q with %d turns, want %d", env.Status, len(env.Result), tt.wantTurns)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	h := NewServer(&stubPlanner{}, nil).Handler()
	rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	resp := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	result, _ := resp["result"].(map[string]interface{})
	if result["active_sessions"] != float64(3) {
		t.Errorf("active_sessions = %v", result["active_sessions"])
	}
}

func TestNotFound(t *testing.T) {
	h := NewServer(&stubPlanner{}, nil).Handler()
	rr := serve(h, testutil.CreateHTTPRequest(t, http.MethodPost, TwilioWebhookPath, nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook without twilio")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
}

func TestTwilioWebhookMounted(t *testing.T) {
	called := false
	h := NewServer(&stubPlanner{}, nil, WithTwilioWebhook(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})).Handler()
	rr := serve(h, httptest.NewRequest(http.MethodPost, TwilioWebhookPath, strings.NewReader("Body=hi")))
	if !called || rr.Code != http.StatusNoContent {
		t.Errorf("webhook not routed: called=%v status=%d", called, rr.Code)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"default allows any", nil, "https://app.example.com", "*"},
		{"allowed origin", []string{"https://app.example.com"}, "https://app.example.com", "https://app.example.com"},
		{"other origin", []string{"https://app.example.com"}, "https://evil.example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(&stubPlanner{}, nil, WithCORSOrigins(tt.origins)).Handler()
			req := testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			rr := serve(h, req)
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := NewServer(&stubPlanner{}, nil, WithRateLimit(0.001, 2)).Handler()

	post := func(ip string) int {
		req := testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{Message: "hi"})
		req.RemoteAddr = ip + ":1234"
		return serve(h, req).Code
	}
	for i := 0; i < 2; i++ {
		if code := post("10.0.0.1"); code != http.StatusOK {
			t.Fatalf("request %d within burst got %d", i, code)
		}
	}
	if code := post("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("request over burst got %d, want 429", code)
	}
	if code := post("10.0.0.2"); code != http.StatusOK {
		t.Errorf("other client got %d", code)
	}

	health := testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	health.RemoteAddr = "10.0.0.1:1234"
	if code := serve(h, health).Code; code != http.StatusOK {
		t.Errorf("health should not be limited, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		fwd    string
		want   string
	}{
		{"192.0.2.1:5555", "", "192.0.2.1"},
		{"192.0.2.1:5555", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"[2001:db8::1]:443", "", "2001:db8::1"},
		{"pipe", "", "pipe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.fwd != "" {
			req.Header.Set("X-Forwarded-For", tt.fwd)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tt.remote, tt.fwd, got, tt.want)
		}
	}
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unmarshalable response")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
}

// TestConversationOverHTTP drives a real planner through the API until an itinerary is produced.
func TestConversationOverHTTP(t *testing.T) {
	searcher := &testutil.FakePlaceSearcher{ByType: map[string][]models.Place{
		"museum": {testutil.Place("met", "The Met", 4.7, "museum")},
		"park":   {testutil.Place("central", "Central Park", 4.9, "park")},
	}}
	turns := store.NewInMemoryStore()
	planner := flow.NewPlanner(
		session.NewStore(),
		&testutil.FakeGeocoder{Hotels: map[string]models.Hotel{"The Plaza": {FormattedAddress: "768 5th Ave", Latitude: 40.76, Longitude: -73.97}}},
		catalog.NewBuilder(searcher),
		itinerary.NewSynthesizer(&testutil.FakeRouteOptimizer{Identity: true}),
		flow.WithTurnLog(turns),
	)
	srv := httptest.NewServer(NewServer(planner, turns, WithRateLimit(0, 0)).Handler())
	defer srv.Close()
	client := &http.Client{Timeout: 5 * time.Second}

	chat := func(sessionID, msg string) models.ChatResponse {
		t.Helper()
		body := testutil.MustMarshalJSON(t, models.ChatRequest{SessionID: sessionID, Message: msg})
		resp, err := client.Post(srv.URL+"/chat", "application/json", strings.NewReader(string(body)))
		if err != nil {
			t.Fatalf("POST /chat failed: %v", err)
		}
		defer resp.Body.Close()
		testutil.AssertHTTPStatus(t, http.StatusOK, resp.StatusCode, msg)
		var out models.ChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		return out
	}

	resp := chat("", "")
	id := resp.SessionID
	if id == "" || len(resp.Options) != len(models.ItineraryTypes) {
		t.Fatalf("unexpected welcome %+v", resp)
	}
	for _, msg := range []string{"tourist", "walking", "2", "The Plaza", "none"} {
		resp = chat(id, msg)
	}
	if resp.Itinerary == nil {
		t.Fatalf("expected itinerary, got %+v", resp)
	}
	stops := resp.Itinerary.Stops
	if stops[len(stops)-1].ID != models.HotelStopID {
		t.Errorf("itinerary should end at the hotel: %+v", stops)
	}

	recorded, err := turns.ListTurns(context.Background(), id)
	if err != nil || len(recorded) != 6 {
		t.Errorf("turn log has %d turns (err %v), want 6", len(recorded), err)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+id, nil)
	if r, err := client.Do(req); err != nil {
		t.Fatalf("DELETE failed: %v", err)
	} else {
		r.Body.Close()
	}
	if planner.ActiveSessions() != 0 {
		t.Errorf("active sessions = %d after clear", planner.ActiveSessions())
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := NewServer(&stubPlanner{}, nil, WithAddr("127.0.0.1:0"), WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
