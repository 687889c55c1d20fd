package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"gotest.tools/v3/assert"

	"github.com/voxelarium/worldlife/chunk"
	"github.com/voxelarium/worldlife/types"
)

func newTestEntityStorage(t *testing.T) (EntityStorage, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	return NewEntityStorage(client, "test"), s
}

func TestEntitiesInScopesToRequestedChunks(t *testing.T) {
	store, _ := newTestEntityStorage(t)
	ctx := context.Background()

	inChunk := chunk.Coordinate{CX: 0, CZ: 0}
	otherChunk := chunk.Coordinate{CX: 6, CZ: -13}

	assert.NilError(t, store.PutEntity(ctx, types.CandidateEntity{
		ID:           "e1",
		BehaviorType: "prey-animal",
		Chunk:        inChunk,
		Position:     types.Position{X: 1, Y: 64, Z: 2},
	}))
	assert.NilError(t, store.PutEntity(ctx, types.CandidateEntity{
		ID:           "e2",
		BehaviorType: "predator",
		Chunk:        otherChunk,
	}))

	candidates, err := store.EntitiesIn(ctx, []chunk.Coordinate{inChunk})
	assert.NilError(t, err)
	assert.Equal(t, 1, len(candidates))
	assert.Equal(t, types.EntityID("e1"), candidates[0].ID)
	assert.Equal(t, "prey-animal", candidates[0].BehaviorType)
	assert.Equal(t, inChunk, candidates[0].Chunk)
	assert.Equal(t, types.Position{X: 1, Y: 64, Z: 2}, candidates[0].Position)

	both, err := store.EntitiesIn(ctx, []chunk.Coordinate{inChunk, otherChunk})
	assert.NilError(t, err)
	assert.Equal(t, 2, len(both))
}

func TestEntitiesInSkipsCorruptDocuments(t *testing.T) {
	store, mini := newTestEntityStorage(t)
	ctx := context.Background()
	coord := chunk.Coordinate{CX: 1, CZ: 1}

	assert.NilError(t, store.PutEntity(ctx, types.CandidateEntity{
		ID:           "good",
		BehaviorType: "stationary",
		Chunk:        coord,
	}))
	mini.HSet(entityChunkKey("test", coord), "bad", "{not json")

	candidates, err := store.EntitiesIn(ctx, []chunk.Coordinate{coord})
	assert.NilError(t, err)
	assert.Equal(t, 1, len(candidates))
	assert.Equal(t, types.EntityID("good"), candidates[0].ID)
}

func TestRemoveEntity(t *testing.T) {
	store, _ := newTestEntityStorage(t)
	ctx := context.Background()
	coord := chunk.Coordinate{CX: 2, CZ: 2}

	assert.NilError(t, store.PutEntity(ctx, types.CandidateEntity{
		ID:           "e1",
		BehaviorType: "stationary",
		Chunk:        coord,
	}))
	assert.NilError(t, store.RemoveEntity(ctx, "e1", coord))

	candidates, err := store.EntitiesIn(ctx, []chunk.Coordinate{coord})
	assert.NilError(t, err)
	assert.Equal(t, 0, len(candidates))
}
