package voxelize

import (
	"math"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/grid"
)

// DefaultCellHalfSize is the half edge length used when none is configured.
const DefaultCellHalfSize = 0.05

// Predicate selects what a cell's W component records.
type Predicate int

const (
	// Inside writes 1 when the cell center is inside the geometry, else 0.
	Inside Predicate = iota
	// Surface writes 1 when the surface passes within the cell's bounding
	// sphere, else 0.
	Surface
	// Distance writes the signed distance from the cell center.
	Distance
)

func (p Predicate) String() string {
	switch p {
	case Inside:
		return "inside"
	case Surface:
		return "surface"
	case Distance:
		return "distance"
	default:
		return "unknown"
	}
}

// ParsePredicate is the inverse of Predicate.String.
func ParsePredicate(s string) (Predicate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inside":
		return Inside, nil
	case "surface":
		return Surface, nil
	case "distance":
		return Distance, nil
	}
	return Inside, errors.New("unknown predicate").
		WithType(ErrTypeConfig).
		WithTag("predicate", s)
}

// Eval maps a signed distance to the value stored in W.
func (p Predicate) Eval(sd, halfSize float64) float32 {
	switch p {
	case Surface:
		if math.Abs(sd) <= halfSize*math.Sqrt(3) {
			return 1
		}
		return 0
	case Distance:
		return float32(sd)
	default:
		if sd <= 0 {
			return 1
		}
		return 0
	}
}

// Params are the kernel parameters of one dispatch.
type Params struct {
	HalfSize  float64
	Dims      grid.Dimensions
	BoundsMin [3]float64
	Predicate Predicate
}

// Config is the static per-instance configuration of a Voxelizer.
type Config struct {
	// CellHalfSize is half the edge length of a grid cell.
	CellHalfSize float64

	// DrawDebug enables voxelization. When false, Tick does nothing.
	DrawDebug bool

	// Predicate selects the per-cell test result.
	Predicate Predicate

	// MaxCells caps the grid size; frames needing more cells are skipped.
	// Zero means grid.DefaultMaxCells.
	MaxCells int
}

func (c Config) maxCells() int {
	if c.MaxCells == 0 {
		return grid.DefaultMaxCells
	}
	return c.MaxCells
}

// DefaultConfig returns the configuration a new component starts with.
func DefaultConfig() Config {
	return Config{
		CellHalfSize: DefaultCellHalfSize,
		Predicate:    Inside,
	}
}

// Validate rejects configurations that would produce a degenerate grid.
func (c Config) Validate() error {
	if err := grid.ValidateHalfSize(c.CellHalfSize); err != nil {
		return errors.New("invalid voxelizer config").
			WithType(ErrTypeConfig).
			Wrap(err)
	}
	if c.Predicate < Inside || c.Predicate > Distance {
		return errors.New("invalid voxelizer config").
			WithType(ErrTypeConfig).
			WithTag("predicate", int(c.Predicate))
	}
	if c.MaxCells < 0 {
		return errors.New("invalid voxelizer config").
			WithType(ErrTypeConfig).
			WithTag("max_cells", c.MaxCells)
	}
	return nil
}
