package redis

import (
	"fmt"

	"github.com/voxelarium/worldlife/chunk"
	"github.com/voxelarium/worldlife/types"
)

// ownershipKey maps an entity to its ownership record, a hash with "owner"
// and "heartbeat" (unix milliseconds) fields.
func ownershipKey(namespace string, id types.EntityID) string {
	return fmt.Sprintf("%s:OWNERSHIP:%s", namespace, id)
}

// ownershipKeyPattern matches every ownership record in the namespace.
func ownershipKeyPattern(namespace string) string {
	return fmt.Sprintf("%s:OWNERSHIP:*", namespace)
}

// entityChunkKey maps a chunk to the hash of entities located in it, keyed by
// entity ID with JSON-encoded candidate documents as values.
func entityChunkKey(namespace string, coord chunk.Coordinate) string {
	return fmt.Sprintf("%s:ENTITIES:CHUNK:%s", namespace, coord.Key())
}

// pathwayChannel is the pub/sub channel player-facing pods subscribe to for
// movement pathway batches.
func pathwayChannel(namespace string) string {
	return fmt.Sprintf("%s:PATHWAYS", namespace)
}
