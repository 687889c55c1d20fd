package redis

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/voxelarium/worldlife/pathway"
	"github.com/voxelarium/worldlife/types"
)

var _ pathway.Feed = (*PathwayFeed)(nil)

// PathwayFeed emits movement pathway batches on a namespaced pub/sub channel.
// Player-facing pods subscribe and fan the pathways out to their connected
// game clients.
type PathwayFeed struct {
	Client    *redis.Client
	namespace string
}

func NewPathwayFeed(client *redis.Client, namespace string) PathwayFeed {
	return PathwayFeed{
		Client:    client,
		namespace: namespace,
	}
}

func (f PathwayFeed) Publish(ctx context.Context, batch []types.Pathway) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "failed to encode pathway batch")
	}
	if err := f.Client.Publish(ctx, pathwayChannel(f.namespace), payload).Err(); err != nil {
		return eris.Wrap(err, "failed to publish pathway batch")
	}
	return nil
}

// Channel returns the pub/sub channel name, so pods and tests know what to
// subscribe to.
func (f PathwayFeed) Channel() string {
	return pathwayChannel(f.namespace)
}
