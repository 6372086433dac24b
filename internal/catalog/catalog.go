// Package catalog builds candidate place sets for itineraries.
//
// It queries the place-search provider around an origin and narrows the results by
// rating, opening hours, free-text keywords and an exclusion set before capping them.
package catalog

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// DefaultPageSize is the provider-side result count requested per search,
	// independent of the caller's MaxResults which applies after filtering.
	DefaultPageSize = 20
	// AnyRestaurantLabel is offered when probing finds no specific cuisine.
	AnyRestaurantLabel = "Any Restaurant"
)

// genericTags are category tags too broad to be offered as a cuisine.
var genericTags = map[string]bool{
	"restaurant":        true,
	"food":              true,
	"point_of_interest": true,
	"establishment":     true,
}

// NearbyRequest is a single nearby-search call to the place-search provider.
type NearbyRequest struct {
	Origin       models.LatLng
	RadiusMeters float64
	Types        []string
	MaxResults   int
}

// PlaceSearcher is the place-search collaborator.
type PlaceSearcher interface {
	SearchNearby(ctx context.Context, req NearbyRequest) ([]models.Place, error)
}

// Query describes a candidate search.
//
// Keywords selects a free-text search. When Types is empty the search covers
// models.DefaultFoodTypes; callers may still narrow a keyword search with Types.
// An empty Keywords list applies no keyword filter.
type Query struct {
	Origin       models.LatLng
	RadiusMeters float64
	Types        []string
	Keywords     []string
	MinRating    float64
	At           *time.Time
	MaxResults   int
	Exclude      map[string]struct{}
}

// Builder produces filtered candidate lists.
type Builder struct {
	searcher PlaceSearcher
	pageSize int
}

// Option defines a configuration option for the Builder.
type Option func(*Builder)

// WithPageSize overrides the provider-side page size.
func WithPageSize(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// NewBuilder creates a Builder backed by the given place searcher.
func NewBuilder(searcher PlaceSearcher, opts ...Option) *Builder {
	b := &Builder{searcher: searcher, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Search runs the query. It never fails: a provider error yields an empty result and the
// caller carries on with whatever candidates it already has.
func (b *Builder) Search(ctx context.Context, q Query) []models.Place {
	types := q.Types
	if len(types) == 0 {
		types = models.DefaultFoodTypes
	}

	places, err := b.searcher.SearchNearby(ctx, NearbyRequest{
		Origin:       q.Origin,
		RadiusMeters: q.RadiusMeters,
		Types:        types,
		MaxResults:   b.pageSize,
	})
	if err != nil {
		slog.Error("Builder.Search: place search failed", "error", err, "types", types)
		return []models.Place{}
	}
	slog.Debug("Builder.Search: provider results", "count", len(places), "types", types, "keywords", q.Keywords)

	out := lo.Filter(places, func(p models.Place, _ int) bool {
		if p.RatingValue() < q.MinRating {
			return false
		}
		if q.At != nil && !IsOpenAt(p, *q.At) {
			return false
		}
		if len(q.Keywords) > 0 && !MatchesKeywords(p, q.Keywords) {
			return false
		}
		if _, excluded := q.Exclude[p.ID]; excluded {
			return false
		}
		return true
	})

	if q.MaxResults > 0 && len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}
	slog.Debug("Builder.Search: filtered results", "count", len(out))
	return out
}

// ProbeCuisines lists the distinct, readable restaurant categories found around origin,
// sorted alphabetically. It falls back to a single "any restaurant" label.
func (b *Builder) ProbeCuisines(ctx context.Context, origin models.LatLng, radiusMeters float64) []string {
	places, err := b.searcher.SearchNearby(ctx, NearbyRequest{
		Origin:       origin,
		RadiusMeters: radiusMeters,
		Types:        []string{"restaurant"},
		MaxResults:   b.pageSize,
	})
	if err != nil {
		slog.Error("Builder.ProbeCuisines: place search failed", "error", err)
		places = nil
	}

	caser := cases.Title(language.English)
	var labels []string
	for _, p := range places {
		for _, tag := range p.Types {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" || genericTags[tag] {
				continue
			}
			labels = append(labels, caser.String(strings.ReplaceAll(tag, "_", " ")))
		}
	}
	labels = lo.Uniq(labels)
	if len(labels) == 0 {
		return []string{AnyRestaurantLabel}
	}
	sort.Strings(labels)
	return labels
}

// IsOpenAt reports whether the place is open at t according to its schedule.
// Only periods opening on t's weekday are considered. A period whose close is earlier
// than its open wraps past midnight. Places without schedule data count as open, and so
// do places reported as always open: a single Sunday 00:00 period with no close.
func IsOpenAt(p models.Place, t time.Time) bool {
	if p.OpeningHours == nil || len(p.OpeningHours.Periods) == 0 {
		return true
	}
	if alwaysOpen(p.OpeningHours.Periods) {
		return true
	}
	weekday := int(t.Weekday())
	target := t.Hour()*60 + t.Minute()

	for _, period := range p.OpeningHours.Periods {
		if period.Open.Day != weekday {
			continue
		}
		if period.Close == nil {
			return true
		}
		open := period.Open.MinuteOfDay()
		closing := period.Close.MinuteOfDay()
		if closing < open {
			if target >= open || target <= closing {
				return true
			}
			continue
		}
		if target >= open && target <= closing {
			return true
		}
	}
	return false
}

func alwaysOpen(periods []models.OpeningPeriod) bool {
	if len(periods) != 1 {
		return false
	}
	p := periods[0]
	return p.Close == nil && p.Open.Day == 0 && p.Open.MinuteOfDay() == 0
}

// MatchesKeywords is a fuzzy, inclusion-biased match of free-text keywords against a place.
// A keyword matches when it appears in the name, appears in a category tag, or shares a
// word longer than two characters with the name.
func MatchesKeywords(p models.Place, keywords []string) bool {
	name := strings.ToLower(p.Name)
	nameTokens := strings.Fields(name)

	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if strings.Contains(name, k) {
			return true
		}
		underscored := strings.ReplaceAll(k, " ", "_")
		for _, tag := range p.Types {
			tag = strings.ToLower(tag)
			if strings.Contains(tag, k) || strings.Contains(tag, underscored) {
				return true
			}
		}
		for _, tok := range strings.Fields(k) {
			if len(tok) > 2 && lo.Contains(nameTokens, tok) {
				return true
			}
		}
	}
	return false
}
