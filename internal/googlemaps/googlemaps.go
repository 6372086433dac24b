// Package googlemaps implements the geocoding, place-search and route-optimization
// collaborators on top of Google Maps Platform.
package googlemaps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	places "cloud.google.com/go/maps/places/apiv1"
	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/itinerary"
	"github.com/BTreeMap/TripPipe/internal/models"
	"google.golang.org/api/option"
	"googlemaps.github.io/maps"
)

const (
	// DefaultPlacesEndpoint is the Places API (New) REST endpoint.
	DefaultPlacesEndpoint = "https://places.googleapis.com"
	// DefaultTimeout bounds each HTTP call made by the client.
	DefaultTimeout = 15 * time.Second
)

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("google maps API key is required")

// Opts holds configuration options for the Google Maps client.
type Opts struct {
	APIKey         string
	PlacesEndpoint string
	BaseURL        string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Google Maps client.
type Option func(*Opts)

// WithAPIKey sets the Google Maps Platform API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithPlacesEndpoint overrides the Places API endpoint.
func WithPlacesEndpoint(endpoint string) Option {
	return func(o *Opts) { o.PlacesEndpoint = endpoint }
}

// WithBaseURL overrides the geocoding and directions base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient sets the HTTP client used for all calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the Geocoding, Directions and Places APIs.
type Client struct {
	maps   *maps.Client
	places *places.Client
	apiKey string
}

var (
	_ catalog.PlaceSearcher    = (*Client)(nil)
	_ itinerary.RouteOptimizer = (*Client)(nil)
)

// NewClient creates a Google Maps client. The caller must Close it.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{PlacesEndpoint: DefaultPlacesEndpoint}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	mapsOpts := []maps.ClientOption{maps.WithAPIKey(cfg.APIKey), maps.WithHTTPClient(cfg.HTTPClient)}
	if cfg.BaseURL != "" {
		mapsOpts = append(mapsOpts, maps.WithBaseURL(cfg.BaseURL))
	}
	mc, err := maps.NewClient(mapsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}

	// The key travels as a request header, so the Places client skips Google credential lookup.
	pc, err := places.NewRESTClient(ctx,
		option.WithEndpoint(cfg.PlacesEndpoint),
		option.WithHTTPClient(cfg.HTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create places client: %w", err)
	}

	slog.Debug("GoogleMaps client created", "places_endpoint", cfg.PlacesEndpoint, "api_key_set", true)
	return &Client{maps: mc, places: pc, apiKey: cfg.APIKey}, nil
}

// Close releases the Places client connection.
func (c *Client) Close() error {
	return c.places.Close()
}

// Geocode resolves a free-text address to the hotel location.
// It returns models.ErrAddressNotFound when the address has no match.
func (c *Client) Geocode(ctx context.Context, address string) (models.Hotel, error) {
	results, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		if isNoResults(err) {
			return models.Hotel{}, models.ErrAddressNotFound
		}
		slog.Error("GoogleMaps.Geocode: request failed", "error", err)
		return models.Hotel{}, fmt.Errorf("geocode: %w", err)
	}
	if len(results) == 0 {
		return models.Hotel{}, models.ErrAddressNotFound
	}
	r := results[0]
	slog.Debug("GoogleMaps.Geocode: resolved", "place_id", r.PlaceID, "results", len(results))
	return models.Hotel{
		FormattedAddress: r.FormattedAddress,
		Latitude:         r.Geometry.Location.Lat,
		Longitude:        r.Geometry.Location.Lng,
		PlaceID:          r.PlaceID,
	}, nil
}

// OptimizeRoute requests a round trip from the origin through every waypoint with
// waypoint optimization. A request with no route returns a nil route and no error.
func (c *Client) OptimizeRoute(ctx context.Context, req itinerary.RouteRequest) (*itinerary.Route, error) {
	origin := formatLatLng(req.Origin)
	waypoints := make([]string, len(req.Waypoints))
	for i, w := range req.Waypoints {
		waypoints[i] = formatLatLng(w)
	}

	routes, _, err := c.maps.Directions(ctx, &maps.DirectionsRequest{
		Origin:      origin,
		Destination: origin,
		Waypoints:   waypoints,
		Optimize:    true,
		Mode:        travelMode(req.Mode),
	})
	if err != nil {
		if isNoResults(err) {
			return nil, nil
		}
		slog.Error("GoogleMaps.OptimizeRoute: request failed", "error", err, "waypoints", len(waypoints))
		return nil, fmt.Errorf("directions: %w", err)
	}
	if len(routes) == 0 {
		return nil, nil
	}

	r := routes[0]
	legs := make([]models.Leg, 0, len(r.Legs))
	for _, l := range r.Legs {
		if l == nil {
			continue
		}
		legs = append(legs, models.Leg{
			StartAddress: l.StartAddress,
			EndAddress:   l.EndAddress,
			Distance:     l.Distance.HumanReadable,
			Duration:     humanDuration(l.Duration),
		})
	}
	slog.Debug("GoogleMaps.OptimizeRoute: route found", "summary", r.Summary, "legs", len(legs))
	return &itinerary.Route{
		WaypointOrder: append([]int(nil), r.WaypointOrder...),
		Summary:       r.Summary,
		Legs:          legs,
	}, nil
}

func travelMode(m models.TravelMode) maps.Mode {
	switch m {
	case models.TravelModeDriving:
		return maps.TravelModeDriving
	case models.TravelModeTransit:
		return maps.TravelModeTransit
	case models.TravelModeBicycling:
		return maps.TravelModeBicycling
	default:
		return maps.TravelModeWalking
	}
}

func formatLatLng(ll models.LatLng) string {
	return fmt.Sprintf("%f,%f", ll.Latitude, ll.Longitude)
}

func isNoResults(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ZERO_RESULTS") || strings.Contains(msg, "NOT_FOUND")
}

// humanDuration renders a leg duration the way the Directions API text does, e.g. "1 hour 5 mins".
func humanDuration(d time.Duration) string {
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	days, hours, m := mins/(24*60), (mins%(24*60))/60, mins%60

	var parts []string
	switch {
	case days > 0:
		parts = append(parts, plural(days, "day"))
		if hours > 0 {
			parts = append(parts, plural(hours, "hour"))
		}
	case hours > 0:
		parts = append(parts, plural(hours, "hour"))
		if m > 0 {
			parts = append(parts, plural(m, "min"))
		}
	default:
		parts = append(parts, plural(m, "min"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
