package appointment

import (
	"context"
	"errors"
)

// ErrInvalidID is returned for empty or blank identifiers.
var ErrInvalidID = errors.New("invalid appointment id")

// Repository is the appointment store contract. A missing record is reported
// through the found/removed booleans, never as an error; errors are reserved
// for backing-store failures.
type Repository interface {
	List(ctx context.Context) ([]*Appointment, error)
	Create(ctx context.Context, in Input) (*Appointment, error)
	Update(ctx context.Context, id string, p Patch) (*Appointment, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*Appointment, bool, error)
}

// Seeder is implemented by stores that can restore records verbatim,
// keeping their IDs and timestamps. Records are only loaded into a store
// that has never issued an ID, so a deleted seed record does not come back
// and seeding never rewinds ID assignment. seeded reports whether the
// records were loaded.
type Seeder interface {
	Seed(ctx context.Context, records ...*Appointment) (seeded bool, err error)
}
