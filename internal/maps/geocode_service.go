// README: Google Maps geocoding for delivery addresses submitted without coordinates.
package maps

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"hometaste/internal/types"
)

type GeocodeService struct {
	client *maps.Client
}

func NewGeocodeService(apiKey string) (*GeocodeService, error) {
	client, err := newClient(apiKey)
	if err != nil {
		return nil, err
	}
	return &GeocodeService{client: client}, nil
}

// Locate resolves a free-form address to the coordinates of the best match.
func (s *GeocodeService) Locate(ctx context.Context, parts ...string) (types.Point, error) {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return types.Point{}, fmt.Errorf("empty address")
	}
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: strings.Join(nonEmpty, ", "),
		Region:  "np",
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("geocode api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, fmt.Errorf("no geocode result")
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
