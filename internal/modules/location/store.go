// README: Partner location index backed by Redis GEO.
package location

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"hometaste/internal/types"
)

const partnerGeoKey = "geo:partners"

type GeoIndex struct {
	redis *redis.Client
}

func NewGeoIndex(redis *redis.Client) *GeoIndex {
	return &GeoIndex{redis: redis}
}

func (s *GeoIndex) Put(ctx context.Context, id types.ID, p types.Point) error {
	err := s.redis.GeoAdd(ctx, partnerGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
	return errors.Wrap(err, "geo add partner")
}

func (s *GeoIndex) Remove(ctx context.Context, id types.ID) error {
	return errors.Wrap(s.redis.ZRem(ctx, partnerGeoKey, string(id)).Err(), "geo remove partner")
}

// Nearby returns indexed partners within radiusKm of center, closest first.
func (s *GeoIndex) Nearby(ctx context.Context, center types.Point, radiusKm float64) ([]Nearby, error) {
	locs, err := s.redis.GeoSearchLocation(ctx, partnerGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "geo search partners")
	}
	out := make([]Nearby, len(locs))
	for i, l := range locs {
		out[i] = Nearby{
			PartnerID:  types.ID(l.Name),
			Position:   types.Point{Lat: l.Latitude, Lng: l.Longitude},
			DistanceKm: l.Dist,
		}
	}
	SortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	return out, nil
}
