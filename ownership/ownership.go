// Package ownership implements the distributed mutual-exclusion layer that
// decides which life-service replica simulates a given entity. Replicas never
// talk to each other directly; all arbitration goes through a shared store
// offering atomic claim/renew/release primitives with lease semantics.
package ownership

import (
	"time"

	"github.com/voxelarium/worldlife/types"
)

// ClaimResult is the outcome of a TryClaim call.
type ClaimResult string

const (
	// Claimed means no live record existed and this process now owns the
	// entity. Also returned when this process already held the record, so a
	// repeated claim is idempotent.
	Claimed ClaimResult = "claimed"
	// Reclaimed means a record existed but its heartbeat was older than the
	// stale threshold; this process took over from the abandoned owner.
	Reclaimed ClaimResult = "reclaimed"
	// AlreadyOwned means another process holds a live record. There is no
	// built-in retry; the caller decides whether to try again later.
	AlreadyOwned ClaimResult = "already_owned"
)

// RenewResult is the outcome of a Renew call.
type RenewResult string

const (
	// Renewed means the heartbeat was extended.
	Renewed RenewResult = "renewed"
	// Lost means another process has since reclaimed the entity (or the
	// record vanished); the caller must drop its local runtime state.
	Lost RenewResult = "lost"
)

// Record is one entity's ownership entry in the shared store.
type Record struct {
	EntityID    types.EntityID `json:"entityId"`
	Owner       string         `json:"owner"`
	HeartbeatAt time.Time      `json:"heartbeatAt"`
}

// Stale reports whether the record's owner has stopped heartbeating long
// enough for any process to legitimately take over.
func (r Record) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.HeartbeatAt) > threshold
}
