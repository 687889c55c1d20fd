// Package scheduler runs the simulation tick that ties the other components
// together: it discovers candidate entities in active chunks, arbitrates
// ownership through the coordinator, drives behaviors, and hands emitted
// pathways to the publisher.
package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/voxelarium/worldlife/behavior"
	"github.com/voxelarium/worldlife/chunk"
	"github.com/voxelarium/worldlife/ownership"
	"github.com/voxelarium/worldlife/pathway"
	"github.com/voxelarium/worldlife/telemetry"
	"github.com/voxelarium/worldlife/types"
)

// maxConsecutiveFailures disables an entity after this many behavior
// failures in a row, so a poison entity cannot burn cycles every tick
// forever. A disabled entity stays owned but is skipped until an
// administrative reset; the flag is dropped with the rest of the runtime
// state when the entity leaves this replica.
const maxConsecutiveFailures = 3

// EntitySource is the discovery query over the world's durable entity store:
// given the currently-active chunks, return the candidate entities located
// there.
type EntitySource interface {
	EntitiesIn(ctx context.Context, coords []chunk.Coordinate) ([]types.CandidateEntity, error)
}

// Scheduler owns the runtime state of every entity this process simulates.
// Tick runs on a single goroutine; concurrency across replicas is arbitrated
// by the ownership coordinator, never inside the process. The mutex only
// covers the map accesses that debug endpoints and the heartbeat loop touch
// from other goroutines.
type Scheduler struct {
	registry    *chunk.Registry
	coordinator *ownership.Coordinator
	behaviors   *behavior.Registry
	source      EntitySource
	publisher   *pathway.Publisher
	pathwayTTL  time.Duration
	rng         *rand.Rand
	log         zerolog.Logger

	mu          sync.Mutex
	entities    map[types.EntityID]*types.EntityState
	failures    map[types.EntityID]int
	disabled    map[types.EntityID]struct{}
	pendingLost []types.EntityID
}

func New(
	registry *chunk.Registry,
	coordinator *ownership.Coordinator,
	behaviors *behavior.Registry,
	source EntitySource,
	publisher *pathway.Publisher,
	pathwayTTL time.Duration,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		registry:    registry,
		coordinator: coordinator,
		behaviors:   behaviors,
		source:      source,
		publisher:   publisher,
		pathwayTTL:  pathwayTTL,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // simulation jitter, not crypto
		log:         logger.With().Str("component", "scheduler").Logger(),
		entities:    make(map[types.EntityID]*types.EntityState),
		failures:    make(map[types.EntityID]int),
		disabled:    make(map[types.EntityID]struct{}),
	}
}

// Tick runs one full simulation pass. The step order matters: releasing
// entities in inactive chunks before claiming new ones keeps a process from
// holding stale ownership past its relevance.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	tickStart := time.Now()
	s.dropLost()

	// Step 1: candidate set = entities already owned plus entities
	// discovered in currently-active chunks.
	activeChunks := s.registry.Snapshot()
	candidates := s.discover(ctx, activeChunks)

	// Step 2: release entities whose chunk went inactive.
	s.releaseIrrelevant(ctx)

	// Step 3: claim discovered entities not yet owned here.
	s.claimNew(ctx, now, candidates)

	// Step 4: run behaviors and collect pathways.
	s.runBehaviors(now)

	// Step 5: batch-renew ownership of everything still owned.
	lost, err := s.coordinator.RenewAll(ctx, now)
	if err != nil {
		s.log.Warn().Err(err).Msg("ownership renewal batch failed; entities keep simulating optimistically")
	}
	s.HandleLost(lost)
	s.dropLost()

	telemetry.EmitTickStat(tickStart, "full_tick")
	telemetry.EmitGauge("active_chunks", float64(len(activeChunks)))
	telemetry.EmitGauge("owned_entities", float64(s.entityCount()))
}

// HandleLost queues entities whose ownership another replica took over. Safe
// to call from the heartbeat goroutine; the states are torn down at the next
// safe point in the tick.
func (s *Scheduler) HandleLost(ids []types.EntityID) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	s.pendingLost = append(s.pendingLost, ids...)
	s.mu.Unlock()
}

// EntityStates returns a copy of the owned entities' public state, sorted by
// ID, for the debug surface.
func (s *Scheduler) EntityStates() []types.EntityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.EntityState, 0, len(s.entities))
	for _, state := range s.entities {
		copied := *state
		copied.Vars = nil
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Disabled returns the IDs of entities currently disabled by repeated
// behavior failures.
func (s *Scheduler) Disabled() []types.EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]types.EntityID, 0, len(s.disabled))
	for id := range s.disabled {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResetEntity clears an entity's failure record so it ticks again. Returns
// false if the entity was not disabled.
func (s *Scheduler) ResetEntity(id types.EntityID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disabled[id]; !ok {
		return false
	}
	delete(s.disabled, id)
	delete(s.failures, id)
	return true
}

func (s *Scheduler) entityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func (s *Scheduler) dropLost() {
	s.mu.Lock()
	lost := s.pendingLost
	s.pendingLost = nil
	for _, id := range lost {
		delete(s.entities, id)
		delete(s.failures, id)
		delete(s.disabled, id)
	}
	s.mu.Unlock()
	for _, id := range lost {
		s.log.Debug().Str("entity", id.String()).Msg("dropped runtime state for lost entity")
	}
}

func (s *Scheduler) discover(ctx context.Context, activeChunks []chunk.Coordinate) []types.CandidateEntity {
	if len(activeChunks) == 0 {
		return nil
	}
	candidates, err := s.source.EntitiesIn(ctx, activeChunks)
	if err != nil {
		// Discovery failure is transient: already-owned entities keep
		// simulating this tick, new ones wait for the next.
		s.log.Warn().Err(err).Msg("entity discovery failed")
		return nil
	}
	return candidates
}

func (s *Scheduler) releaseIrrelevant(ctx context.Context) {
	s.mu.Lock()
	var irrelevant []types.EntityID
	for id, state := range s.entities {
		if !s.registry.IsActive(state.Chunk) {
			irrelevant = append(irrelevant, id)
		}
	}
	for _, id := range irrelevant {
		delete(s.entities, id)
		delete(s.failures, id)
		delete(s.disabled, id)
	}
	s.mu.Unlock()

	for _, id := range irrelevant {
		if err := s.coordinator.Release(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("entity", id.String()).Msg("failed to release entity in inactive chunk")
		} else {
			s.log.Debug().Str("entity", id.String()).Msg("released entity in inactive chunk")
		}
	}
}

func (s *Scheduler) claimNew(ctx context.Context, now time.Time, candidates []types.CandidateEntity) {
	for _, candidate := range candidates {
		s.mu.Lock()
		_, alreadyTracked := s.entities[candidate.ID]
		s.mu.Unlock()
		if alreadyTracked {
			continue
		}
		if !s.registry.IsActive(candidate.Chunk) {
			continue
		}

		result, err := s.coordinator.TryClaim(ctx, candidate.ID, now)
		if err != nil {
			s.log.Warn().Err(err).Str("entity", candidate.ID.String()).Msg("claim failed")
			continue
		}
		if result == ownership.AlreadyOwned {
			continue
		}

		s.mu.Lock()
		s.entities[candidate.ID] = types.NewEntityState(candidate)
		s.mu.Unlock()
		s.log.Debug().
			Str("entity", candidate.ID.String()).
			Str("chunk", candidate.Chunk.Key()).
			Str("behavior", candidate.BehaviorType).
			Msg("initialized entity runtime state")
	}
}

func (s *Scheduler) runBehaviors(now time.Time) {
	s.mu.Lock()
	ids := make([]types.EntityID, 0, len(s.entities))
	snapshots := make([]types.Snapshot, 0, len(s.entities))
	for id, state := range s.entities {
		ids = append(ids, id)
		snapshots = append(snapshots, state.Snapshot())
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s.mu.Lock()
		state, ok := s.entities[id]
		_, isDisabled := s.disabled[id]
		s.mu.Unlock()
		if !ok || isDisabled {
			continue
		}

		wctx := behavior.WorldView{
			Now:    now,
			Rand:   s.rng,
			Others: othersExcept(snapshots, id),
		}
		result, err := s.tickEntity(state, wctx)
		if err != nil {
			s.recordFailure(id, state.BehaviorType, err)
			continue
		}

		s.mu.Lock()
		delete(s.failures, id)
		s.applyResult(state, result)
		s.mu.Unlock()

		if len(result.PathPoints) > 0 {
			s.publisher.Enqueue(types.Pathway{
				EntityID:  id,
				Points:    result.PathPoints,
				ExpiresAt: now.Add(s.pathwayTTL),
			})
		}
	}
}

// tickEntity resolves and runs one entity's behavior, converting a panic
// into an error so a single broken behavior cannot abort the whole tick.
func (s *Scheduler) tickEntity(state *types.EntityState, wctx behavior.WorldView) (result behavior.Result, err error) {
	b, err := s.behaviors.Get(state.BehaviorType)
	if err != nil {
		if eris.Is(err, behavior.ErrUnknownType) {
			// Recoverable: the entity simply never simulates. Not counted as
			// a behavior failure because no amount of retrying will register
			// the missing type.
			s.log.Warn().
				Str("entity", state.ID.String()).
				Str("behavior", state.BehaviorType).
				Msg("no behavior registered for entity type, skipping")
			return behavior.Result{}, nil
		}
		return behavior.Result{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("behavior %q panicked: %v", state.BehaviorType, r)
		}
	}()
	return b.Tick(state, wctx)
}

func (s *Scheduler) recordFailure(id types.EntityID, behaviorType string, err error) {
	s.mu.Lock()
	s.failures[id]++
	count := s.failures[id]
	if count >= maxConsecutiveFailures {
		s.disabled[id] = struct{}{}
	}
	s.mu.Unlock()

	event := s.log.Error().Err(err).
		Str("entity", id.String()).
		Str("behavior", behaviorType).
		Int("consecutive_failures", count)
	if count >= maxConsecutiveFailures {
		event.Msg("entity disabled after repeated behavior failures")
	} else {
		event.Msg("behavior tick failed, entity skipped this tick")
	}
}

// applyResult merges a behavior result into the entity's runtime state.
// Vars merge per key; a behavior that wants to clear a var sets it to its
// zero value rather than expecting wholesale replacement.
func (s *Scheduler) applyResult(state *types.EntityState, result behavior.Result) {
	if result.NewPosition != nil {
		state.Position = *result.NewPosition
	}
	for k, v := range result.NewVars {
		state.Vars[k] = v
	}
}

func othersExcept(snapshots []types.Snapshot, self types.EntityID) []types.Snapshot {
	others := make([]types.Snapshot, 0, len(snapshots)-1)
	for _, snap := range snapshots {
		if snap.ID != self {
			others = append(others, snap)
		}
	}
	return others
}
