// Package worldlife wires the life-service components into one process: the
// active chunk registry, the entity ownership coordinator, the behavior
// registry, the simulation scheduler, and the pathway publisher, plus the
// HTTP boundary player-facing pods push chunk activity to.
package worldlife

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voxelarium/worldlife/behavior"
	"github.com/voxelarium/worldlife/chunk"
	"github.com/voxelarium/worldlife/events"
	"github.com/voxelarium/worldlife/ownership"
	"github.com/voxelarium/worldlife/pathway"
	"github.com/voxelarium/worldlife/scheduler"
	"github.com/voxelarium/worldlife/server"
	"github.com/voxelarium/worldlife/stage"
	redisstorage "github.com/voxelarium/worldlife/storage/redis"
	"github.com/voxelarium/worldlife/telemetry"
	"github.com/voxelarium/worldlife/types"
)

const (
	redisDialTimeout = 15 * time.Second

	// Pathways stay valid on the client long enough to cover a couple of
	// publish intervals of interpolation.
	pathwayTTL = 5 * time.Second

	// Graceful shutdown gets this long to release owned entities before the
	// process gives up and lets the stale threshold do its job.
	releaseDeadline = 5 * time.Second
)

var _ server.Provider = (*Service)(nil)

// Service is one life-service replica.
type Service struct {
	cfg       Config
	processID string

	// Storage
	storage *redisstorage.Storage

	// Core modules
	stage       *stage.Manager
	registry    *chunk.Registry
	coordinator *ownership.Coordinator
	behaviors   *behavior.Registry
	scheduler   *scheduler.Scheduler
	publisher   *pathway.Publisher
	source      scheduler.EntitySource
	feed        pathway.Feed

	// Networking
	hub    *events.Hub
	server *server.Server

	// Loop control
	loopCtx    context.Context
	cancelLoop context.CancelFunc
	loopWG     sync.WaitGroup
}

// New creates a life-service replica from environment configuration.
func New(opts ...Option) (*Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load config to start service")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse log level")
	}
	zerolog.SetGlobalLevel(level)

	storage := redisstorage.NewStorage(redisstorage.Options{
		Addr:        cfg.RedisAddress,
		Password:    cfg.RedisPassword,
		DB:          0, // use default DB
		DialTimeout: redisDialTimeout,
	}, cfg.Namespace)

	behaviors, err := behavior.DefaultRegistry()
	if err != nil {
		return nil, eris.Wrap(err, "failed to build behavior registry")
	}

	processID := uuid.NewString()
	s := &Service{
		cfg:       cfg,
		processID: processID,
		storage:   &storage,
		stage:     stage.NewManager(),
		registry:  chunk.NewRegistry(log.Logger),
		behaviors: behaviors,
		hub:       events.NewHub(),
		source:    storage.EntityStorage,
		feed:      storage.PathwayFeed,
	}

	// Apply options before wiring the components that depend on the
	// injectable collaborators.
	for _, opt := range opts {
		opt(s)
	}

	s.coordinator = ownership.NewCoordinator(
		s.storage.OwnershipStorage, s.processID, cfg.ownershipStaleThreshold(), log.Logger)
	s.publisher = pathway.NewPublisher(
		observedFeed{primary: s.feed, hub: s.hub}, cfg.PathwayBufferSize, log.Logger)
	s.scheduler = scheduler.New(
		s.registry, s.coordinator, s.behaviors, s.source, s.publisher, pathwayTTL, log.Logger)
	s.server = server.New(s, s.hub, server.WithPort(cfg.Port))

	if cfg.StatsdAddress != "" {
		tags := []string{"worldlife_namespace:" + cfg.Namespace}
		if err := telemetry.Init(cfg.StatsdAddress, tags); err != nil {
			return nil, eris.Wrap(err, "unable to init statsd")
		}
	} else {
		log.Logger.Warn().Msg("statsd is disabled")
	}

	log.Info().
		Str("namespace", cfg.Namespace).
		Str("process_id", processID).
		Strs("behaviors", behaviors.Types()).
		Msg("created worldlife service")
	return s, nil
}

// Start runs the periodic loops and the HTTP boundary. If Start doesn't
// encounter any errors, it blocks until the service is shut down via signal
// or Shutdown().
func (s *Service) Start() error {
	ok := s.stage.CompareAndSwap(stage.Init, stage.Starting)
	if !ok {
		return errors.New("service has already been started")
	}

	s.loopCtx, s.cancelLoop = context.WithCancel(context.Background())
	s.stage.Store(stage.Ready)

	s.startLoops()
	s.stage.Store(stage.Running)

	s.startServer()
	s.handleShutdown()

	<-s.stage.NotifyOnStage(stage.ShutDown)
	return nil
}

// startLoops launches the periodic activities, each on its own goroutine so
// a stalled store call delays only ownership operations, never chunk
// tracking or pathway emission.
func (s *Service) startLoops() {
	s.runLoop("simulation_tick", s.cfg.simulationInterval(), func(now time.Time) {
		s.scheduler.Tick(s.loopCtx, now)
	})
	s.runLoop("chunk_ttl_sweep", s.cfg.chunkTTLCleanupInterval(), func(now time.Time) {
		s.registry.SweepExpired(now, s.cfg.chunkTTL())
	})
	s.runLoop("ownership_heartbeat", s.cfg.ownershipHeartbeatInterval(), func(now time.Time) {
		lost, err := s.coordinator.RenewAll(s.loopCtx, now)
		if err != nil {
			log.Warn().Err(err).Msg("heartbeat batch failed")
		}
		s.scheduler.HandleLost(lost)
	})
	s.runLoop("orphan_scan", s.cfg.orphanDetectionInterval(), s.scanOrphans)
	s.runLoop("pathway_flush", s.cfg.pathwayInterval(), func(time.Time) {
		if err := s.publisher.Flush(s.loopCtx); err != nil {
			log.Warn().Err(err).Msg("pathway flush failed")
		}
	})
	log.Info().Msg("simulation loops started")
}

func (s *Service) runLoop(name string, interval time.Duration, fn func(now time.Time)) {
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				fn(now)
			case <-s.loopCtx.Done():
				log.Debug().Str("loop", name).Msg("loop stopped")
				return
			}
		}
	}()
}

// scanOrphans claims entities abandoned by a crashed replica, limited to
// entities whose chunk is active on this replica. The scheduler initializes
// their runtime state on its next tick.
func (s *Service) scanOrphans(now time.Time) {
	candidates, err := s.source.EntitiesIn(s.loopCtx, s.registry.Snapshot())
	if err != nil {
		log.Warn().Err(err).Msg("orphan scan discovery failed")
		return
	}
	relevant := make(map[types.EntityID]struct{}, len(candidates))
	for _, candidate := range candidates {
		relevant[candidate.ID] = struct{}{}
	}
	if _, err := s.coordinator.ScanOrphans(s.loopCtx, now, relevant); err != nil {
		log.Warn().Err(err).Msg("orphan scan failed")
	}
}

func (s *Service) startServer() {
	go func() {
		if err := s.server.Serve(); errors.Is(err, http.ErrServerClosed) {
			log.Info().Err(err).Msg("the server has been closed")
		} else if err != nil {
			log.Fatal().Err(err).Msgf("the server has failed: %s", eris.ToString(err, true))
		}
	}()
}

func (s *Service) handleShutdown() {
	signalChannel := make(chan os.Signal, 1)
	go func() {
		signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
		for sig := range signalChannel {
			if sig == syscall.SIGINT || sig == syscall.SIGTERM {
				if err := s.Shutdown(); err != nil {
					log.Err(err).Msg("there was an error during shutdown")
				}
				return
			}
		}
	}()
}

// Shutdown stops the loops, best-effort releases every owned entity so other
// replicas need not wait out the stale threshold, flushes remaining
// pathways, and closes the HTTP boundary and storage.
func (s *Service) Shutdown() error {
	ok := s.stage.CompareAndSwap(stage.Running, stage.ShuttingDown)
	if !ok {
		select {
		case <-s.stage.NotifyOnStage(stage.ShuttingDown):
			// Another goroutine is already shutting the service down; wait
			// for it to finish.
			<-s.stage.NotifyOnStage(stage.ShutDown)
			return nil
		default:
		}
		return errors.New("shutdown attempted before the service was started")
	}
	log.Info().Msg("shutting down")

	s.cancelLoop()
	s.loopWG.Wait()

	// Bounded-time best effort; a hard kill would simply rely on the stale
	// threshold instead.
	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseDeadline)
	defer cancel()
	s.coordinator.ReleaseAll(releaseCtx)
	if err := s.publisher.Flush(releaseCtx); err != nil {
		log.Warn().Err(err).Msg("final pathway flush failed")
	}

	if err := s.server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("failed to shut down HTTP server")
	}
	s.hub.Shutdown()

	err := s.storage.Close()
	if err != nil {
		log.Error().Err(err).Msg("failed to close storage connection")
	}

	s.stage.Store(stage.ShutDown)
	log.Info().Msg("successfully shut down")
	return err
}

func (s *Service) ProcessID() string {
	return s.processID
}

// IsRunning reports whether the simulation loops are ticking.
func (s *Service) IsRunning() bool {
	return s.stage.Current() == stage.Running
}

// MarkChunkActive records a chunk-activity push from a player-facing pod.
func (s *Service) MarkChunkActive(coord chunk.Coordinate, now time.Time) {
	s.registry.MarkActive(coord, now)
}

func (s *Service) ActiveChunks() []chunk.Coordinate {
	return s.registry.Snapshot()
}

func (s *Service) EntityStates() []types.EntityState {
	return s.scheduler.EntityStates()
}

func (s *Service) DisabledEntities() []types.EntityID {
	return s.scheduler.Disabled()
}

func (s *Service) ResetEntity(id types.EntityID) bool {
	return s.scheduler.ResetEntity(id)
}

// observedFeed publishes to the primary feed and mirrors successful batches
// onto the websocket hub. The mirror is best effort and never fails the
// publish.
type observedFeed struct {
	primary pathway.Feed
	hub     *events.Hub
}

func (f observedFeed) Publish(ctx context.Context, batch []types.Pathway) error {
	if err := f.primary.Publish(ctx, batch); err != nil {
		return err
	}
	if err := f.hub.Emit(batch); err != nil {
		log.Debug().Err(err).Msg("failed to mirror pathway batch to websocket hub")
	}
	return nil
}
