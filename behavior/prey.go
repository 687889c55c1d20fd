package behavior

import (
	"math"

	"github.com/voxelarium/worldlife/types"
)

const (
	TypePrey = "prey-animal"

	preyGrazeSpeed   = 1.0
	preyFleeSpeed    = 3.0
	preyFleeRadius   = 8.0
	preyTurnChance   = 0.2
	preyRestChance   = 0.15
	preyRestDuration = 4
)

// Prey wanders slowly while grazing and bolts directly away from the nearest
// predator that gets too close.
type Prey struct{}

func NewPrey() *Prey {
	return &Prey{}
}

func (p *Prey) Type() string {
	return TypePrey
}

func (p *Prey) Tick(entity *types.EntityState, wctx WorldView) (Result, error) {
	if predator, dist, found := nearest(entity.Position, wctx.Others, TypePredator); found && dist < preyFleeRadius {
		// Flee: run directly away, dropping any rest state.
		away := directionBetween(predator.Position, entity.Position)
		next := advance(entity.Position, away, preyFleeSpeed)
		return Result{
			NewPosition: &next,
			NewVars:     map[string]any{"resting": 0, "heading": away},
			PathPoints:  []types.PathPoint{{Position: next, At: wctx.Now}},
		}, nil
	}

	if rest, _ := entity.Vars["resting"].(int); rest > 0 {
		return Result{NewVars: map[string]any{"resting": rest - 1}}, nil
	}
	if wctx.Rand.Float64() < preyRestChance {
		return Result{NewVars: map[string]any{"resting": preyRestDuration}}, nil
	}

	heading, ok := entity.Vars["heading"].(float64)
	if !ok || wctx.Rand.Float64() < preyTurnChance {
		heading = wctx.Rand.Float64() * 2 * math.Pi
	}
	next := advance(entity.Position, heading, preyGrazeSpeed)
	return Result{
		NewPosition: &next,
		NewVars:     map[string]any{"heading": heading},
		PathPoints:  []types.PathPoint{{Position: next, At: wctx.Now}},
	}, nil
}
