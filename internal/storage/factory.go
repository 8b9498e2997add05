package storage

import (
	"fmt"
	"sync"
)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]StorageFactory)
)

// RegisterFactory registers a storage backend. Adapter packages register
// themselves from init, so importing an adapter makes it available here.
func RegisterFactory(factory StorageFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[factory.GetType()] = factory
}

// NewStorage creates a storage backend for the config's declared type.
func NewStorage(config StorageConfig) (Storage, error) {
	factoriesMu.RLock()
	factory, ok := factories[config.GetType()]
	factoriesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", config.GetType())
	}
	return factory.Create(config)
}
