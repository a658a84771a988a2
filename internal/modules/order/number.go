// README: Human-readable order numbers.
package order

import (
	"fmt"
	"math/rand/v2"
	"time"
)

const numberPrefix = "HT"

// maxNumberAttempts bounds regeneration when a number collides.
const maxNumberAttempts = 5

// NewNumber returns the prefix, the last 8 digits of the unix millisecond clock and a
// random 4-digit suffix, e.g. "HT12345678" + "4821".
func NewNumber(now time.Time) string {
	return fmt.Sprintf("%s%08d%04d", numberPrefix, now.UnixMilli()%100000000, 1000+rand.IntN(9000))
}
