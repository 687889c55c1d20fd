package chunk

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestMarkActiveIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	now := time.Now()
	coord := Coordinate{CX: 1, CZ: 2}

	reg.MarkActive(coord, now)
	reg.MarkActive(coord, now.Add(time.Second))

	assert.Check(t, reg.IsActive(coord))
	assert.Equal(t, 1, reg.Len())
}

func TestSweepExpiredRemovesExactlyExpiredEntries(t *testing.T) {
	reg := newTestRegistry()
	start := time.Now()
	ttl := 5 * time.Minute

	stale := Coordinate{CX: 0, CZ: 0}
	fresh := Coordinate{CX: 6, CZ: -13}
	boundary := Coordinate{CX: -4, CZ: 9}

	sweepAt := start.Add(9 * time.Minute)
	reg.MarkActive(stale, start)
	reg.MarkActive(fresh, start.Add(5*time.Minute))
	// Exactly at the ttl boundary: now - lastSeen == ttl is not expired.
	reg.MarkActive(boundary, sweepAt.Add(-ttl))

	removed := reg.SweepExpired(sweepAt, ttl)

	assert.Equal(t, 1, removed)
	assert.Check(t, !reg.IsActive(stale))
	assert.Check(t, reg.IsActive(fresh))
	assert.Check(t, reg.IsActive(boundary))
}

func TestSweepExpiredOnEmptyRegistry(t *testing.T) {
	reg := newTestRegistry()
	assert.Equal(t, 0, reg.SweepExpired(time.Now(), time.Minute))
}

func TestMarkActiveRefreshOutlivesSweep(t *testing.T) {
	reg := newTestRegistry()
	start := time.Now()
	ttl := 5 * time.Minute
	coord := Coordinate{CX: 3, CZ: 3}

	reg.MarkActive(coord, start)
	reg.MarkActive(coord, start.Add(4*time.Minute))

	removed := reg.SweepExpired(start.Add(6*time.Minute), ttl)
	assert.Equal(t, 0, removed)
	assert.Check(t, reg.IsActive(coord))
}

func TestSnapshotIsSafeDuringConcurrentMutation(t *testing.T) {
	reg := newTestRegistry()
	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int32) {
			defer wg.Done()
			for j := int32(0); j < 100; j++ {
				reg.MarkActive(Coordinate{CX: n, CZ: j}, now)
			}
		}(int32(i))
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for range reg.Snapshot() {
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, reg.Len())
}
