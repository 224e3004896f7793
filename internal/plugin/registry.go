package plugin

import (
	"fmt"
	"sync"

	"github.com/ccdi-dataloader/graphload/internal/schema"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a named factory to the process-wide plugin registry. It
// panics on a duplicate name, matching the teacher's pattern of failing
// fast on a programmer error rather than silently overwriting.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("plugin: factory already registered for %q", name))
	}
	registry[name] = factory
}

// New instantiates the named plugin with the given params, bound to s.
func New(name string, s *schema.Schema, params map[string]any) (Plugin, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: no factory registered for %q", name)
	}
	return factory(s, params)
}

// Names returns the currently registered plugin names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
