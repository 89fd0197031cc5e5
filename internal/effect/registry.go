package effect

import (
	"errors"
	"fmt"
	"sort"

	"reward-bridge/internal/reward"
)

// Registry errors.
var (
	ErrNilEffect       = errors.New("cannot register nil effect")
	ErrEmptyID         = errors.New("effect id cannot be empty")
	ErrDuplicateEffect = errors.New("effect already registered")
	ErrUnknownEffect   = errors.New("unknown effect")
)

// Registry maps effect identifiers to effects. It is filled once at
// startup and only read afterwards.
type Registry struct {
	effects map[string]Effect
}

// NewRegistry creates a registry holding effects.
func NewRegistry(effects ...Effect) (*Registry, error) {
	r := &Registry{effects: make(map[string]Effect, len(effects))}
	for _, e := range effects {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an effect.
func (r *Registry) Register(e Effect) error {
	if e == nil {
		return ErrNilEffect
	}
	if e.ID() == "" {
		return ErrEmptyID
	}
	if _, ok := r.effects[e.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEffect, e.ID())
	}
	r.effects[e.ID()] = e
	return nil
}

// Get returns the effect registered under id.
func (r *Registry) Get(id string) (Effect, bool) {
	e, ok := r.effects[id]
	return e, ok
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.effects))
	for id := range r.effects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateCatalog fails when a prize references an effect that is not
// registered. Prizes without an effect are plain inventory.
func (r *Registry) ValidateCatalog(c *reward.Catalog) error {
	var missing []error
	for _, p := range c.Prizes() {
		if p.Effect == "" {
			continue
		}
		if _, ok := r.effects[p.Effect]; !ok {
			missing = append(missing, fmt.Errorf("%w %q on prize %s", ErrUnknownEffect, p.Effect, p.Name))
		}
	}
	return errors.Join(missing...)
}
