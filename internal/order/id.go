package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidID means the given string is not a well-formed order id. Callers
// get this before any store access is attempted.
var ErrInvalidID = errors.New("invalid order id")

// NewID returns a fresh order id. Ids are UUIDv7, so the creation instant is
// embedded in the id itself; the polling change source relies on that to
// separate inserts from updates.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does, which is fatal anyway.
		panic(fmt.Sprintf("order id generation failed: %v", err))
	}
	return id.String()
}

// ValidateID checks that s parses as an order id.
func ValidateID(s string) error {
	if _, err := parse(s); err != nil {
		return err
	}
	return nil
}

// IDTime extracts the creation instant embedded in an order id.
func IDTime(s string) (time.Time, error) {
	id, err := parse(s)
	if err != nil {
		return time.Time{}, err
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}

func parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	if id.Version() != 7 {
		return uuid.UUID{}, fmt.Errorf("%w: %q is not a v7 uuid", ErrInvalidID, s)
	}
	return id, nil
}
