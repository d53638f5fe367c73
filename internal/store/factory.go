package store

import (
	"fmt"

	"go.uber.org/zap"
)

// Open selects a backend by driver name. "badger" and "memory" use
// path; "sqlite" and "postgres" use dsn.
func Open(driver, path, dsn string, logger *zap.Logger) (Store, error) {
	switch driver {
	case "", "badger":
		return NewBadgerStore(path, logger)
	case "sqlite", "postgres":
		return NewSQLStore(driver, dsn, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
