package behavior

import (
	"math"

	"github.com/voxelarium/worldlife/types"
)

// nearest finds the closest snapshot of the given behavior type, measured on
// the horizontal plane. Elevation is ignored because chunk activity and
// flee/pursue decisions are both column-based.
func nearest(from types.Position, others []types.Snapshot, behaviorType string) (types.Snapshot, float64, bool) {
	var best types.Snapshot
	bestDist := math.MaxFloat64
	found := false
	for _, other := range others {
		if other.BehaviorType != behaviorType {
			continue
		}
		d := horizontalDistance(from, other.Position)
		if d < bestDist {
			best = other
			bestDist = d
			found = true
		}
	}
	return best, bestDist, found
}

func horizontalDistance(a, b types.Position) float64 {
	dx := a.X - b.X
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// directionBetween returns the heading, in radians, pointing from a to b.
func directionBetween(a, b types.Position) float64 {
	return math.Atan2(b.Z-a.Z, b.X-a.X)
}

// advance moves a position along a heading by the given distance.
func advance(p types.Position, heading, distance float64) types.Position {
	return types.Position{
		X: p.X + math.Cos(heading)*distance,
		Y: p.Y,
		Z: p.Z + math.Sin(heading)*distance,
	}
}
