// Package redis adapts the shared redis store to the narrow interfaces the
// worldlife core depends on: the atomic ownership store, the durable entity
// discovery query, and the outbound pathway feed. Core logic never sees a
// redis client; it only sees these adapters.
package redis

import (
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type Options = redis.Options

// Storage bundles every redis-backed collaborator under one namespace and
// one client connection.
type Storage struct {
	Namespace string
	Client    *redis.Client
	Log       zerolog.Logger
	OwnershipStorage
	EntityStorage
	PathwayFeed
}

func NewStorage(options Options, namespace string) Storage {
	client := redis.NewClient(&options)
	return Storage{
		Namespace:        namespace,
		Client:           client,
		Log:              zerolog.New(os.Stdout),
		OwnershipStorage: NewOwnershipStorage(client, namespace),
		EntityStorage:    NewEntityStorage(client, namespace),
		PathwayFeed:      NewPathwayFeed(client, namespace),
	}
}

func (s *Storage) Close() error {
	if err := s.Client.Close(); err != nil {
		return eris.Wrap(err, "failed to close redis connection")
	}
	return nil
}
