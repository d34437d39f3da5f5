package spellbook

import (
	"fmt"
	"sort"
	"sync"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/spell"
)

// SpellModule is the module recorded for the built-in spells.
const SpellModule = "github.com/leapstack-labs/geomancer/pkg/spell"

// Constructor builds a spell from its filter and options.
type Constructor func(on string, opts ...spell.Option) (spell.Spell, error)

type entry struct {
	module string
	build  Constructor
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]entry)
)

func init() {
	Register("DistanceToNearest", SpellModule, func(on string, opts ...spell.Option) (spell.Spell, error) {
		return spell.NewDistanceToNearest(on, opts...)
	})
	Register("NumberOf", SpellModule, func(on string, opts ...spell.Option) (spell.Spell, error) {
		return spell.NewNumberOf(on, opts...)
	})
	Register("LengthOf", SpellModule, func(on string, opts ...spell.Option) (spell.Spell, error) {
		return spell.NewLengthOf(on, opts...)
	})
}

// Register adds a spell constructor under its type tag and defining module.
// Registering a tag again replaces the previous constructor.
func Register(tag, module string, build Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = entry{module: module, build: build}
}

// Lookup returns the constructor for a type tag. A non-empty module must
// match the registered one.
func Lookup(tag, module string) (Constructor, error) {
	registryMu.RLock()
	e, ok := registry[tag]
	registryMu.RUnlock()
	if !ok || (module != "" && module != e.module) {
		return nil, &UnknownSpellError{Type: tag, Module: module, Available: Types()}
	}
	return e.build, nil
}

// ModuleOf returns the module a type tag was registered with.
func ModuleOf(tag string) string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[tag].module
}

// Types returns every registered type tag (sorted).
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownSpellError is returned when a spellbook names a spell type that is
// not registered.
type UnknownSpellError struct {
	Type      string
	Module    string
	Available []string
}

func (e *UnknownSpellError) Error() string {
	name := e.Type
	if e.Module != "" {
		name = e.Module + "." + e.Type
	}
	return fmt.Sprintf("unknown spell type %q\nAvailable spells: %v", name, e.Available)
}

// Unwrap makes the error match backend.ErrConfiguration.
func (e *UnknownSpellError) Unwrap() error { return backend.ErrConfiguration }
