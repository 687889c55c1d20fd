// Package types holds the value types shared across the worldlife
// components: entity identity, positions, pathways, and the in-memory
// runtime state of an owned entity.
package types

import (
	"time"

	"github.com/voxelarium/worldlife/chunk"
)

// EntityID uniquely identifies a simulated non-player actor across the whole
// world, independent of which life-service replica is simulating it.
type EntityID string

func (id EntityID) String() string {
	return string(id)
}

// Position is a point in world space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PathPoint is a single position on a pathway, stamped with the simulation
// time it was produced at so clients can interpolate playback.
type PathPoint struct {
	Position Position  `json:"position"`
	At       time.Time `json:"at"`
}

// Pathway is an ordered sequence of position updates for one entity. A
// pathway is write-once: it is assembled during a tick, enqueued for
// publishing, and never mutated afterwards.
type Pathway struct {
	EntityID  EntityID    `json:"entityId"`
	Points    []PathPoint `json:"points"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// CandidateEntity is the discovery-time view of an entity: what the durable
// entity store knows about it before any replica owns its simulation.
type CandidateEntity struct {
	ID           EntityID
	BehaviorType string
	Chunk        chunk.Coordinate
	Position     Position
}

// EntityState is the live simulation state for one entity on the owning
// process. Created when ownership is claimed, destroyed when ownership is
// released, lost, or the entity's chunk goes inactive. Only the scheduler
// goroutine touches it after creation.
type EntityState struct {
	ID           EntityID
	BehaviorType string
	Chunk        chunk.Coordinate
	Position     Position
	Vars         map[string]any
}

// NewEntityState initializes runtime state from a discovery candidate.
func NewEntityState(candidate CandidateEntity) *EntityState {
	return &EntityState{
		ID:           candidate.ID,
		BehaviorType: candidate.BehaviorType,
		Chunk:        candidate.Chunk,
		Position:     candidate.Position,
		Vars:         make(map[string]any),
	}
}

// Snapshot is a read-only copy of an entity's public state, safe to hand to
// behaviors as part of their world view.
type Snapshot struct {
	ID           EntityID
	BehaviorType string
	Position     Position
}

func (s *EntityState) Snapshot() Snapshot {
	return Snapshot{
		ID:           s.ID,
		BehaviorType: s.BehaviorType,
		Position:     s.Position,
	}
}
