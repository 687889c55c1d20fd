package ownership

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxelarium/worldlife/telemetry"
	"github.com/voxelarium/worldlife/types"
)

const (
	// Transient store errors are retried with capped exponential backoff.
	// The cap keeps a flapping store from stretching a single ownership call
	// past the heartbeat cadence.
	retryAttempts    = 3
	retryBackoffBase = 50 * time.Millisecond
	retryBackoffCap  = 2 * time.Second
)

// Coordinator claims, renews, and releases entity ownership on behalf of one
// process. It tracks the set of entities this process currently owns so the
// heartbeat loop can renew them in one pass.
//
// A hard store outage degrades to "no new claims, no renewals": entities
// already owned keep simulating optimistically until the outage clears or
// this process's leases lapse past the stale threshold, at which point
// another replica may legitimately take over. Brief dual simulation during a
// partition is an accepted, bounded inconsistency.
type Coordinator struct {
	store          Store
	processID      string
	staleThreshold time.Duration
	log            zerolog.Logger

	mu    sync.Mutex
	owned map[types.EntityID]struct{}
}

func NewCoordinator(store Store, processID string, staleThreshold time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:          store,
		processID:      processID,
		staleThreshold: staleThreshold,
		log:            logger.With().Str("component", "ownership").Str("process_id", processID).Logger(),
		owned:          make(map[types.EntityID]struct{}),
	}
}

func (c *Coordinator) ProcessID() string {
	return c.processID
}

// Owned returns a sorted copy of the entity IDs this process currently owns.
func (c *Coordinator) Owned() []types.EntityID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]types.EntityID, 0, len(c.owned))
	for id := range c.owned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Coordinator) Owns(id types.EntityID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[id]
	return ok
}

// TryClaim attempts to take exclusive simulation ownership of the entity.
// Contention is an expected, frequent outcome and is only logged at debug
// level.
func (c *Coordinator) TryClaim(ctx context.Context, entityID types.EntityID, now time.Time) (ClaimResult, error) {
	var result ClaimResult
	err := c.withRetry(ctx, "try_claim", func() error {
		var err error
		result, err = c.store.TryClaim(ctx, entityID, c.processID, now, c.staleThreshold)
		return err
	})
	if err != nil {
		return "", err
	}

	switch result {
	case Claimed, Reclaimed:
		c.mu.Lock()
		c.owned[entityID] = struct{}{}
		c.mu.Unlock()
		c.log.Debug().Str("entity", entityID.String()).Str("result", string(result)).Msg("claimed entity")
	case AlreadyOwned:
		c.log.Debug().Str("entity", entityID.String()).Msg("entity owned elsewhere")
	}
	telemetry.EmitClaim(string(result))
	return result, nil
}

// Renew extends the lease on a single entity. A Lost result means another
// replica reclaimed it; the local tracking entry is dropped and the caller
// must tear down the entity's runtime state.
func (c *Coordinator) Renew(ctx context.Context, entityID types.EntityID, now time.Time) (RenewResult, error) {
	var result RenewResult
	err := c.withRetry(ctx, "renew", func() error {
		var err error
		result, err = c.store.Renew(ctx, entityID, c.processID, now, c.staleThreshold)
		return err
	})
	if err != nil {
		return "", err
	}
	if result == Lost {
		c.forget(entityID)
		c.log.Debug().Str("entity", entityID.String()).Msg("lost entity ownership")
	}
	return result, nil
}

// RenewAll heartbeats every entity this process owns and returns the IDs
// whose ownership was lost in the meantime. Store errors abort the batch;
// entities renewed before the error keep their extended lease.
func (c *Coordinator) RenewAll(ctx context.Context, now time.Time) (lost []types.EntityID, err error) {
	for _, id := range c.Owned() {
		result, err := c.Renew(ctx, id, now)
		if err != nil {
			return lost, err
		}
		if result == Lost {
			lost = append(lost, id)
		}
	}
	return lost, nil
}

// Release gives up ownership of the entity so another replica need not wait
// out the full stale threshold. Best effort: the local tracking entry is
// dropped even if the store delete fails, because by the time release is
// called the caller has already torn down the entity's runtime state.
func (c *Coordinator) Release(ctx context.Context, entityID types.EntityID) error {
	c.forget(entityID)
	return c.withRetry(ctx, "release", func() error {
		return c.store.Release(ctx, entityID, c.processID)
	})
}

// ReleaseAll releases every owned entity, used on graceful shutdown. Errors
// are logged and skipped; a record left behind simply waits out the stale
// threshold on some other replica.
func (c *Coordinator) ReleaseAll(ctx context.Context) {
	for _, id := range c.Owned() {
		if err := c.Release(ctx, id); err != nil {
			c.log.Warn().Err(err).Str("entity", id.String()).Msg("failed to release entity on shutdown")
		}
	}
}

// ScanOrphans looks for ownership records abandoned by a crashed replica and
// claims the ones that are still relevant, i.e. whose entity sits in a chunk
// this process considers active. Returns the IDs of adopted entities; the
// scheduler initializes their runtime state on its next tick.
func (c *Coordinator) ScanOrphans(ctx context.Context, now time.Time, candidates map[types.EntityID]struct{}) ([]types.EntityID, error) {
	var records []Record
	err := c.withRetry(ctx, "list", func() error {
		var err error
		records, err = c.store.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var adopted []types.EntityID
	for _, record := range records {
		if record.Owner == c.processID || !record.Stale(now, c.staleThreshold) {
			continue
		}
		if _, relevant := candidates[record.EntityID]; !relevant {
			continue
		}
		result, err := c.TryClaim(ctx, record.EntityID, now)
		if err != nil {
			c.log.Warn().Err(err).Str("entity", record.EntityID.String()).Msg("orphan claim failed")
			continue
		}
		if result == Reclaimed || result == Claimed {
			adopted = append(adopted, record.EntityID)
			c.log.Info().
				Str("entity", record.EntityID.String()).
				Str("previous_owner", record.Owner).
				Msg("adopted orphaned entity")
		}
	}
	return adopted, nil
}

func (c *Coordinator) forget(entityID types.EntityID) {
	c.mu.Lock()
	delete(c.owned, entityID)
	c.mu.Unlock()
}

// withRetry runs op, retrying transient store errors with capped exponential
// backoff. Context cancellation stops the retries immediately.
func (c *Coordinator) withRetry(ctx context.Context, opName string, op func() error) error {
	backoff := retryBackoffBase
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == retryAttempts-1 {
			break
		}
		c.log.Debug().Err(err).Str("op", opName).Int("attempt", attempt+1).Msg("store call failed, backing off")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryBackoffCap {
			backoff = retryBackoffCap
		}
	}
	return err
}
