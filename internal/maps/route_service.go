// README: Google Maps driving distance between kitchen and delivery address.
package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"hometaste/internal/types"
)

// RouteService handles interactions with the Google Maps Directions API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := newClient(apiKey)
	if err != nil {
		return nil, err
	}
	return &RouteService{client: client}, nil
}

func newClient(apiKey string) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

type Estimate struct {
	DistanceKm float64
	Duration   time.Duration
}

// TravelEstimate returns the driving distance and duration of the first route.
func (s *RouteService) TravelEstimate(ctx context.Context, from, to types.Point) (Estimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
		Region:      "np",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Estimate{}, fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Estimate{}, fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	return Estimate{DistanceKm: float64(leg.Distance.Meters) / 1000, Duration: leg.Duration}, nil
}

// DistanceKm satisfies pricing.Distancer.
func (s *RouteService) DistanceKm(ctx context.Context, from, to types.Point) (float64, error) {
	est, err := s.TravelEstimate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return est.DistanceKm, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
