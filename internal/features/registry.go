package features

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates an extractor with default parameters.
type Factory func() Extractor

var (
	registryMu sync.RWMutex
	factories  = map[string]Factory{}
)

// Register makes an extractor type available to New. It is meant to be
// called from init functions and panics on duplicate registration.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := factories[typ]; dup {
		panic(fmt.Sprintf("features: extractor %q registered twice", typ))
	}
	factories[typ] = f
}

// New creates an extractor of the given type with default parameters.
func New(typ string) (Extractor, error) {
	registryMu.RLock()
	f, ok := factories[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExtractor, typ)
	}
	return f(), nil
}

// Types lists the registered extractor types in sorted order.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// All creates one default instance of every registered extractor, ordered
// by type.
func All() []Extractor {
	types := Types()
	out := make([]Extractor, 0, len(types))
	for _, t := range types {
		if e, err := New(t); err == nil {
			out = append(out, e)
		}
	}
	return out
}
