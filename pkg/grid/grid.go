// Package grid maps a local-space bounding region onto a dense regular grid
// of cubic cells and defines the linear index convention shared by the
// voxelize kernel and every consumer of its output buffer.
package grid

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// ErrTypeInvalidHalfSize marks a non-positive or non-finite cell half-size.
	ErrTypeInvalidHalfSize = "grid_invalid_half_size"

	// ErrTypeGridTooLarge marks a region needing more cells than allowed.
	ErrTypeGridTooLarge = "grid_too_large"
)

// DefaultMaxCells caps the cell count Plan accepts: 16M cells, 256 MiB of
// records.
const DefaultMaxCells = 1 << 24

// Region is an axis-aligned box in mesh-local space. Extents are half sizes,
// so the box spans [Min, Min + 2*Extents].
type Region struct {
	Min     [3]float64
	Extents [3]float64
}

// Size returns the full edge lengths of the region.
func (r Region) Size() [3]float64 {
	return [3]float64{2 * r.Extents[0], 2 * r.Extents[1], 2 * r.Extents[2]}
}

// Max returns the corner opposite Min.
func (r Region) Max() [3]float64 {
	s := r.Size()
	return [3]float64{r.Min[0] + s[0], r.Min[1] + s[1], r.Min[2] + s[2]}
}

// Dimensions holds the cell counts along local X, Y and Z.
type Dimensions struct {
	Width  int
	Height int
	Depth  int
}

// Total returns Width*Height*Depth.
func (d Dimensions) Total() int {
	return d.Width * d.Height * d.Depth
}

// Empty reports whether the grid has no cells.
func (d Dimensions) Empty() bool {
	return d.Total() == 0
}

// Contains reports whether (x, y, z) addresses a cell of the grid.
func (d Dimensions) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 &&
		x < d.Width && y < d.Height && z < d.Depth
}

// Index returns the linear buffer position of cell (x, y, z). X varies
// fastest: index = x + y*Width + z*Width*Height.
func (d Dimensions) Index(x, y, z int) int {
	return x + y*d.Width + z*d.Width*d.Height
}

// Coord is the inverse of Index.
func (d Dimensions) Coord(i int) (x, y, z int) {
	plane := d.Width * d.Height
	z = i / plane
	rem := i - z*plane
	y = rem / d.Width
	x = rem - y*d.Width
	return x, y, z
}

// Plan computes the grid dimensions covering r with cubes of the given half
// size, and returns the bounds-min origin used by the kernel. Each axis gets
// ceil(extent/halfSize) cells, never fewer than zero. Grids above
// DefaultMaxCells are rejected.
func Plan(r Region, halfSize float64) (Dimensions, [3]float64, error) {
	return PlanLimit(r, halfSize, DefaultMaxCells)
}

// PlanLimit is Plan with an explicit cap on the total cell count. A grid that
// would exceed maxCells, on any axis or in total, returns an error typed
// ErrTypeGridTooLarge.
func PlanLimit(r Region, halfSize float64, maxCells int) (Dimensions, [3]float64, error) {
	if err := ValidateHalfSize(halfSize); err != nil {
		return Dimensions{}, [3]float64{}, err
	}

	var counts [3]int
	for axis := 0; axis < 3; axis++ {
		voxelCount := r.Extents[axis] / halfSize
		if !(voxelCount > 0) {
			// Zero, negative and NaN extents all collapse to an empty axis.
			continue
		}
		// Compared as a float so the int conversion below cannot overflow.
		if voxelCount > float64(maxCells) {
			return Dimensions{}, [3]float64{}, errors.New("grid exceeds the cell limit").
				WithType(ErrTypeGridTooLarge).
				WithTag("axis", axis).
				WithTag("extent", r.Extents[axis]).
				WithTag("half_size", halfSize).
				WithTag("max_cells", maxCells)
		}
		counts[axis] = int(math.Ceil(voxelCount))
	}

	total := 1
	for _, c := range counts {
		if c == 0 {
			total = 0
			break
		}
	}
	if total != 0 {
		for _, c := range counts {
			if total > maxCells/c {
				return Dimensions{}, [3]float64{}, errors.New("grid exceeds the cell limit").
					WithType(ErrTypeGridTooLarge).
					WithTag("dims", counts).
					WithTag("half_size", halfSize).
					WithTag("max_cells", maxCells)
			}
			total *= c
		}
	}

	dims := Dimensions{Width: counts[0], Height: counts[1], Depth: counts[2]}
	return dims, r.Min, nil
}

// ValidateHalfSize rejects half sizes that would make Plan divide by a
// non-positive or non-finite value.
func ValidateHalfSize(halfSize float64) error {
	if halfSize > 0 && !math.IsInf(halfSize, 1) {
		return nil
	}
	return errors.New("cell half-size must be a positive finite number").
		WithType(ErrTypeInvalidHalfSize).
		WithTag("half_size", halfSize)
}

// CellCenter returns the local-space center of cell (x, y, z) in a grid whose
// min corner is origin and whose cells have the given half size.
func CellCenter(origin [3]float64, halfSize float64, x, y, z int) [3]float64 {
	cell := 2 * halfSize
	return [3]float64{
		origin[0] + (float64(x)+0.5)*cell,
		origin[1] + (float64(y)+0.5)*cell,
		origin[2] + (float64(z)+0.5)*cell,
	}
}
