package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{}
)

// Register makes a backend available by name. Later registrations replace
// earlier ones.
func Register(b Backend) {
	backendsMu.Lock()
	backends[strings.ToLower(b.Name())] = b
	backendsMu.Unlock()
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("model: engine %q not registered (have %s)", name, strings.Join(backendNamesLocked(), ", "))
	}
	return b, nil
}

// Backends lists registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return backendNamesLocked()
}

func backendNamesLocked() []string {
	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
