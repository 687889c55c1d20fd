// Package behavior defines the pluggable per-entity simulation strategies
// and the registry that maps behavior-type tags to them. Behaviors are pure:
// one tick computes a result from the entity's current state and a read-only
// world view; all I/O and ownership bookkeeping belongs to the scheduler.
package behavior

import (
	"math/rand"
	"time"

	"github.com/rotisserie/eris"

	"github.com/voxelarium/worldlife/types"
)

// WorldView is the read-only context a behavior may consult during a tick.
// Others contains snapshots of the entities this process is simulating in
// the same tick, which is enough for local flee/pursue decisions; entities
// simulated by other replicas are invisible by design.
type WorldView struct {
	Now    time.Time
	Rand   *rand.Rand
	Others []types.Snapshot
}

// Result describes what one tick of a behavior wants to change. Nil/empty
// fields mean "no change"; the scheduler applies the result to the entity's
// runtime state and forwards emitted path points to the publisher.
type Result struct {
	NewPosition *types.Position
	NewVars     map[string]any
	PathPoints  []types.PathPoint
}

// Behavior simulates one tick for one entity.
type Behavior interface {
	// Type is the behavior-type tag entities reference, e.g. "prey-animal".
	Type() string
	// Tick must not mutate entity or wctx; changes go through the Result.
	Tick(entity *types.EntityState, wctx WorldView) (Result, error)
}

// ErrUnknownType is returned by Registry.Get for a behavior type no plugin
// registered. It is a normal, recoverable condition: the entity simply never
// simulates, surfaced via logging rather than a crash.
var ErrUnknownType = eris.New("unknown behavior type")

// Registry is the static behavior plugin table, populated once during
// startup and immutable afterwards. There is no lazy or reflective
// discovery; every behavior is registered explicitly.
type Registry struct {
	behaviors map[string]Behavior
	sealed    bool
}

func NewRegistry() *Registry {
	return &Registry{
		behaviors: make(map[string]Behavior),
	}
}

// Register adds a behavior under its type tag. Registering a duplicate tag
// or registering after Seal is a startup configuration mistake and returns
// an error the caller should treat as fatal.
func (r *Registry) Register(behaviors ...Behavior) error {
	if r.sealed {
		return eris.New("behavior registry is sealed; all registration must happen during startup")
	}
	for _, b := range behaviors {
		if _, exists := r.behaviors[b.Type()]; exists {
			return eris.Errorf("behavior type %q is already registered", b.Type())
		}
		r.behaviors[b.Type()] = b
	}
	return nil
}

// Seal freezes the registry. Called once startup registration is complete.
func (r *Registry) Seal() {
	r.sealed = true
}

// Get looks up the behavior for a type tag.
func (r *Registry) Get(behaviorType string) (Behavior, error) {
	b, ok := r.behaviors[behaviorType]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownType, "%q", behaviorType)
	}
	return b, nil
}

// Types returns the registered behavior-type tags.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.behaviors))
	for t := range r.behaviors {
		out = append(out, t)
	}
	return out
}

// DefaultRegistry builds the standard behavior set shipped with the service.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.Register(NewPrey(), NewPredator(), NewStationary()); err != nil {
		return nil, err
	}
	r.Seal()
	return r, nil
}
