// Package naming gives simulator parts a stable, human readable name. Hooks
// and recorders use the name as the location of an event.
package naming

// Named describes an object that has a name.
type Named interface {
	// Name returns the name of the object.
	Name() string
}

// NamedBase is a base implementation of Named.
type NamedBase struct {
	name string
}

// Name returns the name given at creation.
func (b NamedBase) Name() string {
	return b.name
}

// MakeNamedBase creates a new NamedBase. Names cannot be empty.
func MakeNamedBase(name string) NamedBase {
	if name == "" {
		panic("name must not be empty")
	}

	return NamedBase{name: name}
}
