package behavior

import (
	"github.com/voxelarium/worldlife/types"
)

const (
	TypeStationary = "stationary"

	stationaryShuffleChance = 0.05
	stationaryShuffleRange  = 0.3
)

// Stationary stays put apart from an occasional small shuffle, which keeps
// idle creatures looking alive on the client without meaningful movement.
type Stationary struct{}

func NewStationary() *Stationary {
	return &Stationary{}
}

func (s *Stationary) Type() string {
	return TypeStationary
}

func (s *Stationary) Tick(entity *types.EntityState, wctx WorldView) (Result, error) {
	if wctx.Rand.Float64() >= stationaryShuffleChance {
		return Result{}, nil
	}
	next := types.Position{
		X: entity.Position.X + (wctx.Rand.Float64()-0.5)*stationaryShuffleRange,
		Y: entity.Position.Y,
		Z: entity.Position.Z + (wctx.Rand.Float64()-0.5)*stationaryShuffleRange,
	}
	return Result{
		NewPosition: &next,
		PathPoints:  []types.PathPoint{{Position: next, At: wctx.Now}},
	}, nil
}
