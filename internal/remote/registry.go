package remote

import (
	"fmt"
	"sort"
	gosync "sync"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

var (
	registryMu  gosync.RWMutex
	drivers     = make(map[string]DriverFactory)
	middlewares = make(map[string]MiddlewareFactory)
)

// RegisterDriver makes a driver factory available by name. Registering the
// same name twice panics, as with database/sql.
func RegisterDriver(f DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if f.New == nil {
		panic("remote: RegisterDriver with nil constructor for " + f.Name)
	}

	if _, dup := drivers[f.Name]; dup {
		panic("remote: RegisterDriver called twice for " + f.Name)
	}

	drivers[f.Name] = f
}

// RegisterMiddleware makes a middleware factory available by name.
func RegisterMiddleware(f MiddlewareFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if f.New == nil {
		panic("remote: RegisterMiddleware with nil constructor for " + f.Name)
	}

	if _, dup := middlewares[f.Name]; dup {
		panic("remote: RegisterMiddleware called twice for " + f.Name)
	}

	middlewares[f.Name] = f
}

// LookupDriver returns the factory registered under name.
func LookupDriver(name string) (DriverFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := drivers[name]
	if !ok {
		return DriverFactory{}, &vfs.ConfigurationError{
			Subject: "driver " + name,
			Err:     fmt.Errorf("not registered (known: %v)", sortedKeys(drivers)),
		}
	}

	return f, nil
}

// LookupMiddleware returns the factories registered under names, in order.
func LookupMiddleware(names []string) ([]MiddlewareFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]MiddlewareFactory, 0, len(names))

	for _, name := range names {
		f, ok := middlewares[name]
		if !ok {
			return nil, &vfs.ConfigurationError{
				Subject: "middleware " + name,
				Err:     fmt.Errorf("not registered (known: %v)", sortedKeys(middlewares)),
			}
		}

		out = append(out, f)
	}

	return out, nil
}

// Drivers lists registered driver names in sorted order.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	return sortedKeys(drivers)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
