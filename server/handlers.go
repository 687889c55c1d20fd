package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/voxelarium/worldlife/chunk"
	"github.com/voxelarium/worldlife/types"
)

// ChunkActivityRequest is the push body player-facing pods send whenever a
// player is near a chunk. One request may carry a batch.
type ChunkActivityRequest struct {
	Chunks []chunk.Coordinate `json:"chunks"`
}

type ChunkActivityResponse struct {
	Accepted int `json:"accepted"`
}

func (s *Server) handleChunkActivity(ctx *fiber.Ctx) error {
	req := new(ChunkActivityRequest)
	if err := ctx.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "request body must be a chunk activity batch")
	}
	if len(req.Chunks) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "chunk activity batch was empty")
	}
	now := time.Now()
	for _, coord := range req.Chunks {
		s.provider.MarkChunkActive(coord, now)
	}
	return ctx.JSON(ChunkActivityResponse{Accepted: len(req.Chunks)})
}

type GetHealthResponse struct {
	IsServerRunning     bool `json:"isServerRunning"`
	IsSimulationRunning bool `json:"isSimulationRunning"`
}

func (s *Server) handleHealth(ctx *fiber.Ctx) error {
	return ctx.JSON(GetHealthResponse{
		IsServerRunning:     true,
		IsSimulationRunning: s.provider.IsRunning(),
	})
}

type DebugChunksResponse struct {
	Chunks []string `json:"chunks"`
}

func (s *Server) handleDebugChunks(ctx *fiber.Ctx) error {
	coords := s.provider.ActiveChunks()
	keys := make([]string, 0, len(coords))
	for _, coord := range coords {
		keys = append(keys, coord.Key())
	}
	return ctx.JSON(DebugChunksResponse{Chunks: keys})
}

type DebugEntity struct {
	ID           types.EntityID `json:"id"`
	BehaviorType string         `json:"behaviorType"`
	Chunk        string         `json:"chunk"`
	Position     types.Position `json:"position"`
	Disabled     bool           `json:"disabled"`
}

type DebugEntitiesResponse struct {
	Entities []DebugEntity `json:"entities"`
}

func (s *Server) handleDebugEntities(ctx *fiber.Ctx) error {
	disabled := make(map[types.EntityID]struct{})
	for _, id := range s.provider.DisabledEntities() {
		disabled[id] = struct{}{}
	}
	states := s.provider.EntityStates()
	out := make([]DebugEntity, 0, len(states))
	for _, state := range states {
		_, isDisabled := disabled[state.ID]
		out = append(out, DebugEntity{
			ID:           state.ID,
			BehaviorType: state.BehaviorType,
			Chunk:        state.Chunk.Key(),
			Position:     state.Position,
			Disabled:     isDisabled,
		})
	}
	return ctx.JSON(DebugEntitiesResponse{Entities: out})
}

func (s *Server) handleResetEntity(ctx *fiber.Ctx) error {
	id := types.EntityID(ctx.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "entity id is required")
	}
	if !s.provider.ResetEntity(id) {
		return fiber.NewError(fiber.StatusNotFound, "entity is not disabled")
	}
	return ctx.JSON(fiber.Map{"reset": string(id)})
}
