// README: Partner position types for the location index and broadcasts.
package location

import (
	"time"

	"hometaste/internal/apperr"
	"hometaste/internal/types"
)

var (
	ErrBadPosition = apperr.New(apperr.KindValidation, "latitude and longitude are out of range")
	ErrNotPartner  = apperr.New(apperr.KindForbidden, "only delivery partners report locations")
)

type Update struct {
	PartnerID types.ID
	Position  types.Point
}

// Nearby is one indexed partner with its distance from the query point.
type Nearby struct {
	PartnerID  types.ID
	Position   types.Point
	DistanceKm float64
}

// Result reports what an accepted update reached.
type Result struct {
	RecordedAt  time.Time
	Broadcasted int
}
