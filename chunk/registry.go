package chunk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry tracks the set of chunks currently worth simulating. Player-facing
// pods push activity notifications whenever a player is near a chunk; the
// absence of a refresh is itself the deactivation signal, so a crashed or
// partitioned pod never needs to send an explicit "deactivate" message.
//
// The registry is process-local. Expiry of entries is driven by a sweep timer
// owned by the service; eviction of any entity runtime state living in a
// newly-inactive chunk is the scheduler's job on its next tick.
type Registry struct {
	mu      sync.RWMutex
	entries map[Coordinate]time.Time // last time a pod reported the chunk hot
	log     zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[Coordinate]time.Time),
		log:     logger.With().Str("component", "chunk_registry").Logger(),
	}
}

// MarkActive records that a player-facing pod reported the chunk as hot.
// Idempotent upsert; refreshing an already-active chunk just extends its
// lifetime.
func (r *Registry) MarkActive(coord Coordinate, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[coord]; !ok {
		r.log.Debug().Str("chunk", coord.Key()).Msg("chunk became active")
	}
	r.entries[coord] = now
}

func (r *Registry) IsActive(coord Coordinate) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[coord]
	return ok
}

// Snapshot returns a copy of the active chunk set. The copy is safe to
// iterate while pods keep refreshing entries concurrently.
func (r *Registry) Snapshot() []Coordinate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coords := make([]Coordinate, 0, len(r.entries))
	for coord := range r.entries {
		coords = append(coords, coord)
	}
	return coords
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SweepExpired deletes every entry whose last refresh is older than ttl and
// returns the number of entries removed.
func (r *Registry) SweepExpired(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for coord, lastSeen := range r.entries {
		if now.Sub(lastSeen) > ttl {
			delete(r.entries, coord)
			removed++
		}
	}
	if removed > 0 {
		r.log.Debug().Int("removed", removed).Int("remaining", len(r.entries)).Msg("swept expired chunks")
	}
	return removed
}
