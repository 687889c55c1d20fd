package worldlife

import (
	"github.com/voxelarium/worldlife/pathway"
	"github.com/voxelarium/worldlife/scheduler"
)

type Option func(s *Service)

// WithProcessID overrides the generated process identity. Used by tests that
// need deterministic ownership records.
func WithProcessID(id string) Option {
	return func(s *Service) {
		s.processID = id
	}
}

// WithEntitySource replaces the redis-backed entity discovery query.
func WithEntitySource(source scheduler.EntitySource) Option {
	return func(s *Service) {
		s.source = source
	}
}

// WithPathwayFeed replaces the redis pub/sub pathway feed.
func WithPathwayFeed(feed pathway.Feed) Option {
	return func(s *Service) {
		s.feed = feed
	}
}
