// Package pathway decouples the fast per-tick simulation cadence from the
// slower network-emission cadence. The scheduler enqueues pathways as
// behaviors produce them; a flush timer drains the buffer and emits one
// batch per interval to the feed consumed by player-facing pods.
package pathway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxelarium/worldlife/telemetry"
	"github.com/voxelarium/worldlife/types"
)

// Feed is the outbound channel consumed by player-facing pods. Publish sends
// one batch; a returned error marks the whole batch as not delivered.
type Feed interface {
	Publish(ctx context.Context, batch []types.Pathway) error
}

const (
	// A batch that fails to publish is requeued at the front and retried on
	// subsequent flushes, up to this many attempts. Transient send failure is
	// therefore distinguishable from buffer-overflow drop.
	maxBatchRetries = 3
)

// Publisher accumulates pathways in a bounded in-memory buffer. Enqueue never
// blocks the simulation loop: when the publish side falls behind, the oldest
// pathways are dropped with a warning so a slow network sink cannot cause
// unbounded memory growth.
type Publisher struct {
	feed     Feed
	capacity int
	log      zerolog.Logger

	mu           sync.Mutex
	buffer       []types.Pathway
	retryBatch   []types.Pathway
	retriesLeft  int
	totalDropped uint64
}

func NewPublisher(feed Feed, capacity int, logger zerolog.Logger) *Publisher {
	if capacity <= 0 {
		capacity = 1
	}
	return &Publisher{
		feed:     feed,
		capacity: capacity,
		log:      logger.With().Str("component", "pathway_publisher").Logger(),
		buffer:   make([]types.Pathway, 0, capacity),
	}
}

// Enqueue appends a pathway to the outbound buffer, dropping the oldest
// entries if the buffer is full.
func (p *Publisher) Enqueue(pathway types.Pathway) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if overflow := len(p.buffer) + 1 - p.capacity; overflow > 0 {
		p.buffer = p.buffer[overflow:]
		p.totalDropped += uint64(overflow)
		p.log.Warn().Int("dropped", overflow).Msg("pathway buffer full, dropped oldest entries")
		telemetry.EmitPathwayDrop(overflow)
	}
	p.buffer = append(p.buffer, pathway)
}

// Pending returns the number of buffered pathways, including any batch
// waiting for a retry.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer) + len(p.retryBatch)
}

// Dropped returns the total number of pathways discarded due to overflow.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalDropped
}

// Flush drains the buffer and emits one batch to the feed. On emission
// failure the batch is held at the front for the next flush; after
// maxBatchRetries failed attempts it is dropped with an error log.
func (p *Publisher) Flush(ctx context.Context) error {
	batch := p.takeBatch()
	if len(batch) == 0 {
		return nil
	}

	if err := p.feed.Publish(ctx, batch); err != nil {
		p.requeue(batch)
		return err
	}

	p.mu.Lock()
	p.retryBatch = nil
	p.retriesLeft = 0
	p.mu.Unlock()
	return nil
}

// takeBatch moves the retry batch (if any) and the current buffer contents
// into one outgoing batch, with the retried pathways in front.
func (p *Publisher) takeBatch() []types.Pathway {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := append(p.retryBatch, p.buffer...)
	p.buffer = make([]types.Pathway, 0, p.capacity)
	p.retryBatch = nil
	return batch
}

func (p *Publisher) requeue(batch []types.Pathway) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retriesLeft <= 0 {
		p.retriesLeft = maxBatchRetries
	}
	p.retriesLeft--
	if p.retriesLeft == 0 {
		p.totalDropped += uint64(len(batch))
		p.log.Error().Int("batch_size", len(batch)).Msg("pathway batch dropped after repeated publish failures")
		telemetry.EmitPathwayDrop(len(batch))
		return
	}
	p.log.Warn().Int("batch_size", len(batch)).Int("retries_left", p.retriesLeft).Msg("pathway publish failed, batch requeued")
	p.retryBatch = batch
}
