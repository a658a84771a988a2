// README: Dispatch tuning and partner sampling for ready_for_pickup orders.
package dispatch

import (
	"math/rand/v2"
	"time"

	"hometaste/internal/types"
)

const (
	// selectPoolSize is how many nearby partners to sample before picking the initial set.
	selectPoolSize = 10
	// broadcastDelay is how long an order may stay unclaimed before the wider broadcast.
	broadcastDelay = 30 * time.Second
	// wideRadiusFactor scales the dispatch radius for the wider broadcast.
	wideRadiusFactor = 2
	// keyTTL bounds dispatch bookkeeping; orders resolve well within a day.
	keyTTL = 24 * time.Hour
)

// PickRandomPartners returns up to n distinct partners from pool in random order. The
// pool is not modified.
func PickRandomPartners(pool []types.ID, n int) []types.ID {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]types.ID, 0, n)
	for _, i := range rand.Perm(len(pool))[:n] {
		out = append(out, pool[i])
	}
	return out
}
