package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/voxelarium/worldlife/ownership"
	"github.com/voxelarium/worldlife/types"
)

// recordTTLFactor garbage-collects ownership records of entities that left
// the world entirely: a record untouched for this many stale thresholds is
// expired by redis itself.
const recordTTLFactor = 10

var _ ownership.Store = (*OwnershipStorage)(nil)

// OwnershipStorage implements the atomic claim/renew/release contract with
// server-side scripts, so the compare step and the write step of every
// operation execute as one unit. Two replicas that both observed the same
// stale record cannot both win the subsequent claim.
type OwnershipStorage struct {
	Client    *redis.Client
	namespace string
}

// claimScript writes the record when it is absent, stale, or already ours.
// Returns "claimed", "reclaimed", or "already_owned".
var claimScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
local now = tonumber(ARGV[2])
if not owner or owner == ARGV[1] then
	redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'heartbeat', ARGV[2])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	return 'claimed'
end
local heartbeat = tonumber(redis.call('HGET', KEYS[1], 'heartbeat'))
if now - heartbeat > tonumber(ARGV[3]) then
	redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'heartbeat', ARGV[2])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	return 'reclaimed'
end
return 'already_owned'
`)

// renewScript extends the heartbeat only while the stored owner matches.
// Returns "renewed" or "lost".
var renewScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
if not owner or owner ~= ARGV[1] then
	return 'lost'
end
redis.call('HSET', KEYS[1], 'heartbeat', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 'renewed'
`)

// releaseScript deletes the record only while the stored owner matches.
var releaseScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
if owner and owner == ARGV[1] then
	redis.call('DEL', KEYS[1])
end
return 'ok'
`)

func NewOwnershipStorage(client *redis.Client, namespace string) OwnershipStorage {
	return OwnershipStorage{
		Client:    client,
		namespace: namespace,
	}
}

func (s OwnershipStorage) TryClaim(
	ctx context.Context,
	entityID types.EntityID,
	owner string,
	now time.Time,
	staleAfter time.Duration,
) (ownership.ClaimResult, error) {
	res, err := claimScript.Run(ctx, s.Client,
		[]string{ownershipKey(s.namespace, entityID)},
		owner,
		now.UnixMilli(),
		staleAfter.Milliseconds(),
		recordTTLFactor*staleAfter.Milliseconds(),
	).Text()
	if err != nil {
		return "", eris.Wrapf(err, "failed to claim entity %s", entityID)
	}
	return ownership.ClaimResult(res), nil
}

func (s OwnershipStorage) Renew(
	ctx context.Context,
	entityID types.EntityID,
	owner string,
	now time.Time,
	staleAfter time.Duration,
) (ownership.RenewResult, error) {
	// Same expiry horizon a claim sets. The record must comfortably outlive
	// the stale threshold, or an owner with a live lease could lose the
	// record to redis expiry between heartbeats.
	res, err := renewScript.Run(ctx, s.Client,
		[]string{ownershipKey(s.namespace, entityID)},
		owner,
		now.UnixMilli(),
		recordTTLFactor*staleAfter.Milliseconds(),
	).Text()
	if err != nil {
		return "", eris.Wrapf(err, "failed to renew entity %s", entityID)
	}
	return ownership.RenewResult(res), nil
}

func (s OwnershipStorage) Release(ctx context.Context, entityID types.EntityID, owner string) error {
	err := releaseScript.Run(ctx, s.Client,
		[]string{ownershipKey(s.namespace, entityID)},
		owner,
	).Err()
	if err != nil {
		return eris.Wrapf(err, "failed to release entity %s", entityID)
	}
	return nil
}

func (s OwnershipStorage) List(ctx context.Context) ([]ownership.Record, error) {
	prefix := strings.TrimSuffix(ownershipKeyPattern(s.namespace), "*")
	var records []ownership.Record

	iter := s.Client.Scan(ctx, 0, ownershipKeyPattern(s.namespace), 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.Client.HMGet(ctx, key, "owner", "heartbeat").Result()
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read ownership record %s", key)
		}
		owner, ok := fields[0].(string)
		if !ok {
			// Record expired between SCAN and HMGET.
			continue
		}
		heartbeatStr, ok := fields[1].(string)
		if !ok {
			continue
		}
		heartbeatMilli, err := strconv.ParseInt(heartbeatStr, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "corrupt heartbeat in ownership record %s", key)
		}
		records = append(records, ownership.Record{
			EntityID:    types.EntityID(strings.TrimPrefix(key, prefix)),
			Owner:       owner,
			HeartbeatAt: time.UnixMilli(heartbeatMilli),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to scan ownership records")
	}
	return records, nil
}
