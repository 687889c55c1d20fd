package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"

	"github.com/voxelarium/worldlife/behavior"
	"github.com/voxelarium/worldlife/chunk"
	"github.com/voxelarium/worldlife/ownership"
	"github.com/voxelarium/worldlife/pathway"
	redisstorage "github.com/voxelarium/worldlife/storage/redis"
	"github.com/voxelarium/worldlife/types"
)

const (
	testStaleThreshold = 15 * time.Second
	testChunkTTL       = 5 * time.Minute
	testPathwayTTL     = 5 * time.Second
)

// fakeSource serves a fixed entity list, scoped to the requested chunks the
// same way the redis-backed source is.
type fakeSource struct {
	entities []types.CandidateEntity
	err      error
}

func (f *fakeSource) EntitiesIn(_ context.Context, coords []chunk.Coordinate) ([]types.CandidateEntity, error) {
	if f.err != nil {
		return nil, f.err
	}
	requested := make(map[chunk.Coordinate]struct{}, len(coords))
	for _, coord := range coords {
		requested[coord] = struct{}{}
	}
	var out []types.CandidateEntity
	for _, candidate := range f.entities {
		if _, ok := requested[candidate.Chunk]; ok {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// captureFeed lets tests observe published batches without a network.
type captureFeed struct {
	batches [][]types.Pathway
}

func (f *captureFeed) Publish(_ context.Context, batch []types.Pathway) error {
	f.batches = append(f.batches, batch)
	return nil
}

// testBehavior wires an arbitrary tick function under a type tag.
type testBehavior struct {
	typeTag string
	tick    func(entity *types.EntityState, wctx behavior.WorldView) (behavior.Result, error)
}

func (b *testBehavior) Type() string {
	return b.typeTag
}

func (b *testBehavior) Tick(entity *types.EntityState, wctx behavior.WorldView) (behavior.Result, error) {
	return b.tick(entity, wctx)
}

// mover advances X by one unit and emits one path point each tick.
func mover() behavior.Behavior {
	return &testBehavior{
		typeTag: "mover",
		tick: func(entity *types.EntityState, wctx behavior.WorldView) (behavior.Result, error) {
			next := entity.Position
			next.X++
			return behavior.Result{
				NewPosition: &next,
				PathPoints:  []types.PathPoint{{Position: next, At: wctx.Now}},
			}, nil
		},
	}
}

func flaky() behavior.Behavior {
	return &testBehavior{
		typeTag: "flaky",
		tick: func(*types.EntityState, behavior.WorldView) (behavior.Result, error) {
			return behavior.Result{}, eris.New("behavior exploded")
		},
	}
}

func panicky() behavior.Behavior {
	return &testBehavior{
		typeTag: "panicky",
		tick: func(*types.EntityState, behavior.WorldView) (behavior.Result, error) {
			panic("behavior panicked")
		},
	}
}

type fixture struct {
	scheduler   *Scheduler
	registry    *chunk.Registry
	coordinator *ownership.Coordinator
	store       ownership.Store
	source      *fakeSource
	publisher   *pathway.Publisher
	feed        *captureFeed
}

func newFixture(t *testing.T, processID string) *fixture {
	t.Helper()
	mini := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	store := redisstorage.NewOwnershipStorage(client, "test")

	registry := chunk.NewRegistry(zerolog.Nop())
	coordinator := ownership.NewCoordinator(store, processID, testStaleThreshold, zerolog.Nop())
	behaviors := behavior.NewRegistry()
	assert.NilError(t, behaviors.Register(mover(), flaky(), panicky()))
	behaviors.Seal()
	source := &fakeSource{}
	feed := &captureFeed{}
	publisher := pathway.NewPublisher(feed, 64, zerolog.Nop())

	return &fixture{
		scheduler:   New(registry, coordinator, behaviors, source, publisher, testPathwayTTL, zerolog.Nop()),
		registry:    registry,
		coordinator: coordinator,
		store:       store,
		source:      source,
		publisher:   publisher,
		feed:        feed,
	}
}

func candidate(id string, behaviorType string, coord chunk.Coordinate) types.CandidateEntity {
	return types.CandidateEntity{
		ID:           types.EntityID(id),
		BehaviorType: behaviorType,
		Chunk:        coord,
		Position:     types.Position{Y: 64},
	}
}

func TestTickClaimsAndSimulatesDiscoveredEntities(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("e1", "mover", coord)}

	f.scheduler.Tick(context.Background(), now.Add(time.Second))

	assert.Check(t, f.coordinator.Owns("e1"))
	states := f.scheduler.EntityStates()
	assert.Equal(t, 1, len(states))
	assert.Equal(t, 1.0, states[0].Position.X, "mover advances one unit per tick")
	assert.Equal(t, 1, f.publisher.Pending())
}

func TestTickSkipsEntitiesOwnedElsewhere(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()

	// A live rival owns e1.
	_, err := f.store.TryClaim(context.Background(), "e1", "proc-B", now, testStaleThreshold)
	assert.NilError(t, err)

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("e1", "mover", coord)}

	f.scheduler.Tick(context.Background(), now.Add(time.Second))

	assert.Check(t, !f.coordinator.Owns("e1"))
	assert.Equal(t, 0, len(f.scheduler.EntityStates()))
}

func TestTickReclaimsStaleEntities(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()

	// A crashed rival left a stale record behind.
	_, err := f.store.TryClaim(context.Background(), "e1", "proc-dead", now.Add(-testStaleThreshold-time.Minute), testStaleThreshold)
	assert.NilError(t, err)

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("e1", "mover", coord)}

	f.scheduler.Tick(context.Background(), now)

	assert.Check(t, f.coordinator.Owns("e1"))
	assert.Equal(t, 1, len(f.scheduler.EntityStates()))
}

// The end-to-end scenario: a chunk goes hot, an entity is claimed and
// simulated, the chunk's TTL lapses with no further refresh, and the next
// tick releases ownership and discards runtime state.
func TestChunkExpiryReleasesEntities(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	start := time.Now()
	ctx := context.Background()

	f.registry.MarkActive(coord, start)
	f.source.entities = []types.CandidateEntity{candidate("e1", "mover", coord)}

	f.scheduler.Tick(ctx, start.Add(time.Second))
	assert.Check(t, f.coordinator.Owns("e1"))

	// No further MarkActive calls; the sweep fires past the TTL.
	removed := f.registry.SweepExpired(start.Add(testChunkTTL+10*time.Second), testChunkTTL)
	assert.Equal(t, 1, removed)

	f.scheduler.Tick(ctx, start.Add(testChunkTTL+11*time.Second))

	assert.Check(t, !f.coordinator.Owns("e1"))
	assert.Equal(t, 0, len(f.scheduler.EntityStates()))

	// The record was released, not abandoned: another process can claim it
	// fresh without waiting out the stale threshold.
	result, err := f.store.TryClaim(ctx, "e1", "proc-B", start.Add(testChunkTTL+12*time.Second), testStaleThreshold)
	assert.NilError(t, err)
	assert.Equal(t, ownership.Claimed, result)
}

// One broken behavior must not stall the rest of the tick.
func TestTickPartialFailureIsolation(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{
		candidate("a", "mover", coord),
		candidate("b", "flaky", coord),
		candidate("c", "mover", coord),
	}

	f.scheduler.Tick(context.Background(), now.Add(time.Second))

	states := f.scheduler.EntityStates()
	assert.Equal(t, 3, len(states))
	byID := make(map[types.EntityID]types.EntityState)
	for _, state := range states {
		byID[state.ID] = state
	}
	assert.Equal(t, 1.0, byID["a"].Position.X)
	assert.Equal(t, 0.0, byID["b"].Position.X, "failed entity keeps its prior state")
	assert.Equal(t, 1.0, byID["c"].Position.X)
}

func TestPanickingBehaviorIsIsolatedToo(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{
		candidate("a", "mover", coord),
		candidate("b", "panicky", coord),
	}

	f.scheduler.Tick(context.Background(), now.Add(time.Second))

	states := f.scheduler.EntityStates()
	assert.Equal(t, 2, len(states))
}

func TestEntityDisabledAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()
	ctx := context.Background()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("b", "flaky", coord)}

	for i := 0; i < maxConsecutiveFailures; i++ {
		f.scheduler.Tick(ctx, now.Add(time.Duration(i)*time.Second))
	}
	assert.DeepEqual(t, []types.EntityID{"b"}, f.scheduler.Disabled())

	// A disabled entity stays owned but stops ticking until reset.
	assert.Check(t, f.coordinator.Owns("b"))
	assert.Check(t, f.scheduler.ResetEntity("b"))
	assert.Equal(t, 0, len(f.scheduler.Disabled()))
	assert.Check(t, !f.scheduler.ResetEntity("b"), "reset of an enabled entity reports false")
}

func TestUnknownBehaviorTypeIsSkippedNotDisabled(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()
	ctx := context.Background()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("mystery", "unmapped-type", coord)}

	for i := 0; i < maxConsecutiveFailures+1; i++ {
		f.scheduler.Tick(ctx, now.Add(time.Duration(i)*time.Second))
	}

	// The entity never simulates but is not a poison entity: no failures, no
	// disabling, no pathways.
	assert.Equal(t, 0, len(f.scheduler.Disabled()))
	assert.Equal(t, 0, f.publisher.Pending())
	assert.Equal(t, 1, len(f.scheduler.EntityStates()))
}

func TestDiscoveryFailureKeepsOwnedEntitiesTicking(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()
	ctx := context.Background()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("e1", "mover", coord)}
	f.scheduler.Tick(ctx, now.Add(time.Second))

	f.source.err = eris.New("entity store unavailable")
	f.scheduler.Tick(ctx, now.Add(2*time.Second))

	states := f.scheduler.EntityStates()
	assert.Equal(t, 1, len(states))
	assert.Equal(t, 2.0, states[0].Position.X, "owned entity ticked through the discovery outage")
}

// The debug endpoints read scheduler state from the HTTP goroutine while the
// very first tick runs; both sides must go through the mutex from the start.
func TestDebugReadsAreSafeDuringFirstTick(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()
	ctx := context.Background()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("e1", "mover", coord)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			f.scheduler.Tick(ctx, now.Add(time.Duration(i)*time.Second))
		}
	}()
	for i := 0; i < 200; i++ {
		f.scheduler.EntityStates()
		f.scheduler.Disabled()
		f.scheduler.ResetEntity("e1")
	}
	<-done
	assert.Equal(t, 1, len(f.scheduler.EntityStates()))
}

// The disabled flag is runtime state: it must not outlive the entity on this
// replica, or a re-discovered entity would stay silently disabled.
func TestDisabledFlagClearedWhenEntityLeaves(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	start := time.Now()
	ctx := context.Background()

	f.registry.MarkActive(coord, start)
	f.source.entities = []types.CandidateEntity{candidate("b", "flaky", coord)}
	for i := 0; i < maxConsecutiveFailures; i++ {
		f.scheduler.Tick(ctx, start.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 1, len(f.scheduler.Disabled()))

	// The chunk goes cold; releasing the entity drops the flag with the
	// rest of its runtime state.
	f.registry.SweepExpired(start.Add(testChunkTTL+10*time.Second), testChunkTTL)
	f.scheduler.Tick(ctx, start.Add(testChunkTTL+11*time.Second))
	assert.Equal(t, 0, len(f.scheduler.Disabled()))

	// Re-discovery starts from a clean slate: the entity ticks (and fails)
	// again instead of staying silently disabled.
	reactivateAt := start.Add(testChunkTTL + 12*time.Second)
	f.registry.MarkActive(coord, reactivateAt)
	f.scheduler.Tick(ctx, reactivateAt)
	assert.Equal(t, 1, len(f.scheduler.EntityStates()))
	assert.Equal(t, 0, len(f.scheduler.Disabled()))
}

func TestDisabledFlagClearedWhenOwnershipLost(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()
	ctx := context.Background()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("b", "flaky", coord)}
	for i := 0; i < maxConsecutiveFailures; i++ {
		f.scheduler.Tick(ctx, now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 1, len(f.scheduler.Disabled()))

	f.scheduler.HandleLost([]types.EntityID{"b"})
	f.source.entities = nil
	f.scheduler.Tick(ctx, now.Add(time.Minute))
	assert.Equal(t, 0, len(f.scheduler.Disabled()))
}

func TestHandleLostDropsRuntimeState(t *testing.T) {
	f := newFixture(t, "proc-A")
	coord := chunk.Coordinate{CX: 0, CZ: 0}
	now := time.Now()
	ctx := context.Background()

	f.registry.MarkActive(coord, now)
	f.source.entities = []types.CandidateEntity{candidate("e1", "mover", coord)}
	f.scheduler.Tick(ctx, now.Add(time.Second))
	assert.Equal(t, 1, len(f.scheduler.EntityStates()))

	f.scheduler.HandleLost([]types.EntityID{"e1"})
	f.source.entities = nil
	f.scheduler.Tick(ctx, now.Add(2*time.Second))

	assert.Equal(t, 0, len(f.scheduler.EntityStates()))
}
