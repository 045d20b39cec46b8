package grid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// RegionFromWorld moves a world-space axis-aligned box into the local space
// described by worldToLocal. All eight corners are transformed, so the
// result encloses the box even when the transform rotates it.
func RegionFromWorld(worldMin, worldMax [3]float64, worldToLocal mgl64.Mat4) Region {
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}

	for corner := 0; corner < 8; corner++ {
		p := mgl64.Vec4{worldMin[0], worldMin[1], worldMin[2], 1}
		if corner&1 != 0 {
			p[0] = worldMax[0]
		}
		if corner&2 != 0 {
			p[1] = worldMax[1]
		}
		if corner&4 != 0 {
			p[2] = worldMax[2]
		}

		local := worldToLocal.Mul4x1(p)
		for axis := 0; axis < 3; axis++ {
			lo[axis] = math.Min(lo[axis], local[axis])
			hi[axis] = math.Max(hi[axis], local[axis])
		}
	}

	var r Region
	for axis := 0; axis < 3; axis++ {
		r.Min[axis] = lo[axis]
		r.Extents[axis] = math.Max(0, (hi[axis]-lo[axis])/2)
	}
	return r
}
