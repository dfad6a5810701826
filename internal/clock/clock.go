// Package clock provides the time and id sources used when stamping tasks.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time.
//
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// System is the wall clock, truncated to milliseconds in UTC.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.UnixMilli(time.Now().UnixMilli()).UTC()
}

// IDGenerator produces entity ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
