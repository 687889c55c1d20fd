package ownership

import (
	"context"
	"time"

	"github.com/voxelarium/worldlife/types"
)

// Store is the narrow contract the coordinator needs from the shared store.
// Every method must be atomic with respect to concurrent calls from other
// replicas: a check-then-write race between two processes that both observed
// the same stale record must be impossible. The redis adapter satisfies this
// with server-side scripts; any store with a compare-and-set primitive can
// implement it.
type Store interface {
	// TryClaim writes {entityID, owner, now} if no record exists, the
	// existing record is stale (heartbeat older than staleAfter), or the
	// existing record already belongs to owner. Returns AlreadyOwned without
	// writing when a live record belongs to someone else.
	TryClaim(ctx context.Context, entityID types.EntityID, owner string, now time.Time, staleAfter time.Duration) (ClaimResult, error)

	// Renew extends the record's heartbeat only if owner still matches. The
	// staleAfter threshold sizes the record's expiry horizon the same way a
	// claim does, so a renewed lease never outlives its storage.
	Renew(ctx context.Context, entityID types.EntityID, owner string, now time.Time, staleAfter time.Duration) (RenewResult, error)

	// Release deletes the record only if owner still matches. Releasing a
	// record owned by someone else (or already gone) is not an error.
	Release(ctx context.Context, entityID types.EntityID, owner string) error

	// List returns every ownership record in the namespace. Used by the
	// orphan scan; the listing does not need to be a consistent snapshot
	// because every subsequent claim re-checks atomically.
	List(ctx context.Context) ([]Record, error)
}
