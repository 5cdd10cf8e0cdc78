package store

import "errors"

// Driver selects the persistence backend.
type Driver string

const (
	DriverLocal    Driver = "local"
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverMongo    Driver = "mongo"
)

// ErrDuplicate is returned by backends when a unique key already exists.
var ErrDuplicate = errors.New("store: duplicate key")
