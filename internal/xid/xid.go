package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered identifier such as
// "sale-0192f3a1c2d47e3b9a5f6c7d8e9f0a1b". Receipt lookups match on
// fragments of it, so it is kept lowercase hex without separators.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(id.String(), "-", ""))
}
