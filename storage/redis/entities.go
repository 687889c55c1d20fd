package redis

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/voxelarium/worldlife/chunk"
	"github.com/voxelarium/worldlife/types"
)

// entityDoc is the stored shape of a world entity inside its chunk hash. The
// chunk coordinate is implied by the key the document lives under.
type entityDoc struct {
	ID           types.EntityID `json:"id"`
	BehaviorType string         `json:"behaviorType"`
	Position     types.Position `json:"position"`
}

// EntityStorage is the discovery adapter over the world's durable entity
// store: given the active chunk set, it returns the candidate entities
// located there. The generator service writes these documents when it
// populates the world; this service only reads them.
type EntityStorage struct {
	Client    *redis.Client
	namespace string
}

func NewEntityStorage(client *redis.Client, namespace string) EntityStorage {
	return EntityStorage{
		Client:    client,
		namespace: namespace,
	}
}

// EntitiesIn returns every entity located in the given chunks. A corrupt
// entity document is skipped, not fatal: one bad row must not hide the rest
// of the world.
func (s EntityStorage) EntitiesIn(ctx context.Context, coords []chunk.Coordinate) ([]types.CandidateEntity, error) {
	var candidates []types.CandidateEntity
	for _, coord := range coords {
		rows, err := s.Client.HGetAll(ctx, entityChunkKey(s.namespace, coord)).Result()
		if err != nil {
			return nil, eris.Wrapf(err, "failed to list entities in chunk %s", coord.Key())
		}
		for id, raw := range rows {
			var doc entityDoc
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				continue
			}
			if doc.ID == "" {
				doc.ID = types.EntityID(id)
			}
			candidates = append(candidates, types.CandidateEntity{
				ID:           doc.ID,
				BehaviorType: doc.BehaviorType,
				Chunk:        coord,
				Position:     doc.Position,
			})
		}
	}
	return candidates, nil
}

// PutEntity upserts an entity document into its chunk hash. Used by seeding
// tools and tests; the life service itself never moves entities between
// chunk hashes.
func (s EntityStorage) PutEntity(ctx context.Context, candidate types.CandidateEntity) error {
	doc := entityDoc{
		ID:           candidate.ID,
		BehaviorType: candidate.BehaviorType,
		Position:     candidate.Position,
	}
	bz, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "failed to encode entity document")
	}
	key := entityChunkKey(s.namespace, candidate.Chunk)
	if err := s.Client.HSet(ctx, key, string(candidate.ID), bz).Err(); err != nil {
		return eris.Wrapf(err, "failed to store entity %s", candidate.ID)
	}
	return nil
}

// RemoveEntity deletes an entity document from its chunk hash.
func (s EntityStorage) RemoveEntity(ctx context.Context, id types.EntityID, coord chunk.Coordinate) error {
	err := s.Client.HDel(ctx, entityChunkKey(s.namespace, coord), string(id)).Err()
	return eris.Wrapf(err, "failed to remove entity %s", id)
}
