// README: Identifier type shared by all records.
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ID string

// NewID returns a 32-char hex identifier.
func NewID() ID {
	return ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (id ID) String() string { return string(id) }

// Ptr returns a pointer to a copy of id.
func (id ID) Ptr() *ID { return &id }
