package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueryRecord is one persisted oracle query.
type QueryRecord struct {
	ID       string
	Question string
	AskedAt  time.Time
	Success  bool
}
