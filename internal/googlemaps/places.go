package googlemaps

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/maps/places/apiv1/placespb"
	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/googleapis/gax-go/v2/callctx"
	"google.golang.org/genproto/googleapis/type/latlng"
)

const (
	placesFieldMask = "places.id,places.displayName,places.formattedAddress,places.location," +
		"places.rating,places.types,places.regularOpeningHours"
	maxPlacesResults = 20
	maxPlacesRadius  = 50000.0
)

// SearchNearby runs a Places API (New) nearby search restricted to a circle around the origin.
func (c *Client) SearchNearby(ctx context.Context, req catalog.NearbyRequest) ([]models.Place, error) {
	count := req.MaxResults
	if count <= 0 || count > maxPlacesResults {
		count = maxPlacesResults
	}
	radius := req.RadiusMeters
	if radius > maxPlacesRadius {
		radius = maxPlacesRadius
	}

	ctx = callctx.SetHeaders(ctx, "X-Goog-Api-Key", c.apiKey, "X-Goog-FieldMask", placesFieldMask)
	resp, err := c.places.SearchNearby(ctx, &placespb.SearchNearbyRequest{
		IncludedTypes:  req.Types,
		MaxResultCount: int32(count),
		LocationRestriction: &placespb.SearchNearbyRequest_LocationRestriction{
			Type: &placespb.SearchNearbyRequest_LocationRestriction_Circle{Circle: &placespb.Circle{
				Center: &latlng.LatLng{Latitude: req.Origin.Latitude, Longitude: req.Origin.Longitude},
				Radius: radius,
			}},
		},
	})
	if err != nil {
		slog.Error("GoogleMaps.SearchNearby: request failed", "error", err, "types", req.Types)
		return nil, fmt.Errorf("nearby search: %w", err)
	}

	places := make([]models.Place, 0, len(resp.GetPlaces()))
	for _, p := range resp.GetPlaces() {
		places = append(places, toPlace(p))
	}
	slog.Debug("GoogleMaps.SearchNearby: results", "count", len(places), "types", req.Types, "radius", radius)
	return places, nil
}

// toPlace maps a Places result onto the catalog model. The API omits the rating of
// unrated places, which arrives here as zero.
func toPlace(p *placespb.Place) models.Place {
	place := models.Place{
		ID:        p.GetId(),
		Name:      p.GetDisplayName().GetText(),
		Address:   p.GetFormattedAddress(),
		Latitude:  p.GetLocation().GetLatitude(),
		Longitude: p.GetLocation().GetLongitude(),
		Types:     p.GetTypes(),
	}
	if r := p.GetRating(); r > 0 {
		place.Rating = &r
	}
	if p.GetRegularOpeningHours() == nil {
		return place
	}
	hours := &models.OpeningHours{}
	for _, period := range p.GetRegularOpeningHours().GetPeriods() {
		if period.GetOpen() == nil {
			continue
		}
		op := models.OpeningPeriod{Open: toTimePoint(period.GetOpen())}
		if period.GetClose() != nil {
			cl := toTimePoint(period.GetClose())
			op.Close = &cl
		}
		hours.Periods = append(hours.Periods, op)
	}
	place.OpeningHours = hours
	return place
}

func toTimePoint(p *placespb.Place_OpeningHours_Period_Point) models.TimePoint {
	return models.TimePoint{Day: int(p.GetDay()), Hour: int(p.GetHour()), Minute: int(p.GetMinute())}
}
