// Package server exposes the HTTP boundary of the life service: the
// chunk-activity push endpoint player-facing pods call, a health check, a
// small debug surface, and a websocket stream of published pathways.
package server

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"github.com/voxelarium/worldlife/chunk"
	"github.com/voxelarium/worldlife/events"
	"github.com/voxelarium/worldlife/types"
)

const defaultPort = "4050"

// Provider is the view of the service the HTTP boundary needs. The service
// itself implements it; handlers never reach into components directly.
type Provider interface {
	MarkChunkActive(coord chunk.Coordinate, now time.Time)
	ActiveChunks() []chunk.Coordinate
	EntityStates() []types.EntityState
	DisabledEntities() []types.EntityID
	ResetEntity(id types.EntityID) bool
	IsRunning() bool
}

type Server struct {
	app      *fiber.App
	provider Provider
	hub      *events.Hub
	port     string
}

func New(provider Provider, hub *events.Hub, opts ...Option) *Server {
	app := fiber.New(fiber.Config{
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
	})
	s := &Server{
		app:      app,
		provider: provider,
		hub:      hub,
		port:     defaultPort,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerHandlers()
	return s
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	log.Info().Str("port", s.port).Msg("serving HTTP boundary")
	return eris.Wrap(s.app.Listen(":"+s.port), "HTTP server stopped")
}

func (s *Server) Shutdown() error {
	return eris.Wrap(s.app.Shutdown(), "failed to shut down HTTP server")
}

func (s *Server) registerHandlers() {
	s.app.Post("/chunks/active", s.handleChunkActivity)
	s.app.Get("/health", s.handleHealth)

	debug := s.app.Group("/debug")
	debug.Get("/chunks", s.handleDebugChunks)
	debug.Get("/entities", s.handleDebugEntities)
	debug.Post("/entities/:id/reset", s.handleResetEntity)

	s.app.Use("/events", upgradeToWebSocket)
	s.app.Get("/events", websocket.New(s.handleEvents))
}

func upgradeToWebSocket(ctx *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(ctx) {
		return ctx.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) handleEvents(conn *websocket.Conn) {
	s.hub.RegisterConnection(conn)
	defer s.hub.UnregisterConnection(conn)
	// Drain (and discard) inbound frames so pings are answered and the
	// connection close is noticed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
