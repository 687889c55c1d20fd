package behavior

import (
	"math"

	"github.com/voxelarium/worldlife/types"
)

const (
	TypePredator = "predator"

	predatorRoamSpeed   = 1.5
	predatorChaseSpeed  = 2.5
	predatorViewRadius  = 15.0
	predatorCatchRadius = 1.0
	predatorTurnChance  = 0.1
)

// Predator roams until a prey animal enters its view, then pursues it. The
// kill itself is out of scope here; closing within catch radius just ends
// the pursuit so the life cycle stays with the combat system.
type Predator struct{}

func NewPredator() *Predator {
	return &Predator{}
}

func (p *Predator) Type() string {
	return TypePredator
}

func (p *Predator) Tick(entity *types.EntityState, wctx WorldView) (Result, error) {
	if prey, dist, found := nearest(entity.Position, wctx.Others, TypePrey); found && dist < predatorViewRadius {
		if dist <= predatorCatchRadius {
			return Result{NewVars: map[string]any{"pursuing": ""}}, nil
		}
		toward := directionBetween(entity.Position, prey.Position)
		speed := math.Min(predatorChaseSpeed, dist)
		next := advance(entity.Position, toward, speed)
		return Result{
			NewPosition: &next,
			NewVars:     map[string]any{"pursuing": string(prey.ID), "heading": toward},
			PathPoints:  []types.PathPoint{{Position: next, At: wctx.Now}},
		}, nil
	}

	heading, ok := entity.Vars["heading"].(float64)
	if !ok || wctx.Rand.Float64() < predatorTurnChance {
		heading = wctx.Rand.Float64() * 2 * math.Pi
	}
	next := advance(entity.Position, heading, predatorRoamSpeed)
	return Result{
		NewPosition: &next,
		NewVars:     map[string]any{"pursuing": "", "heading": heading},
		PathPoints:  []types.PathPoint{{Position: next, At: wctx.Now}},
	}, nil
}
