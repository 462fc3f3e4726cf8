package outbox

import "fmt"

// Open returns the storage named by driver ("memory", "sqlite" or "pebble").
func Open(driver, path string) (Storage, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		s, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pebble":
		p, err := NewPebble(path)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown outbox driver %q", driver)
	}
}
