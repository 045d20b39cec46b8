package grid

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

const tol = 1e-9

func requireVecNear(t *testing.T, want, got [3]float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		require.InDelta(t, want[i], got[i], tol, "axis %d", i)
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		extents  [3]float64
		halfSize float64
		want     Dimensions
	}{
		{"fractional rounds up", [3]float64{0.12, 0.12, 0.12}, 0.05, Dimensions{3, 3, 3}},
		{"exact multiple", [3]float64{0.1, 0.2, 0.05}, 0.05, Dimensions{2, 4, 1}},
		{"zero axis", [3]float64{0, 0.2, 0.2}, 0.05, Dimensions{0, 4, 4}},
		{"all zero", [3]float64{}, 0.05, Dimensions{}},
		{"negative clamps", [3]float64{-1, 0.3, 0.3}, 0.1, Dimensions{0, 3, 3}},
		{"tiny extent", [3]float64{1e-9, 1e-9, 1e-9}, 0.05, Dimensions{1, 1, 1}},
		{"mixed", [3]float64{1, 0.5, 0.25}, 0.1, Dimensions{10, 5, 3}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := Region{Min: [3]float64{-1, 2, 3}, Extents: test.extents}
			dims, origin, err := Plan(r, test.halfSize)
			require.NoError(t, err)
			require.Equal(t, test.want, dims)
			require.Equal(t, r.Min, origin)
		})
	}
}

func TestPlanMatchesCeil(t *testing.T) {
	halfSizes := []float64{0.01, 0.05, 0.125, 0.3, 1}
	for _, h := range halfSizes {
		for e := 0.0; e <= 2; e += 0.037 {
			dims, _, err := Plan(Region{Extents: [3]float64{e, e, e}}, h)
			require.NoError(t, err)

			want := int(math.Ceil(e / h))
			require.Equal(t, want, dims.Width, "e=%v h=%v", e, h)
			require.Equal(t, e == 0, dims.Width == 0, "e=%v h=%v", e, h)
			require.Equal(t, dims.Width*dims.Height*dims.Depth, dims.Total())
		}
	}
}

func TestPlanRejectsInvalidHalfSize(t *testing.T) {
	for _, h := range []float64{0, -0.05, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, _, err := Plan(Region{Extents: [3]float64{1, 1, 1}}, h)
		require.Error(t, err, "half size %v", h)
		require.True(t, errors.IsType(err, ErrTypeInvalidHalfSize))
	}
}

func TestPlanRejectsOversizedGrid(t *testing.T) {
	tests := []struct {
		name     string
		extents  [3]float64
		maxCells int
	}{
		{"axis beyond int range", [3]float64{1e20, 1, 1}, DefaultMaxCells},
		{"infinite extent", [3]float64{math.Inf(1), 1, 1}, DefaultMaxCells},
		{"product overflows int", [3]float64{1e6, 1e6, 1e6}, math.MaxInt},
		{"product above default cap", [3]float64{50, 50, 50}, DefaultMaxCells},
		{"one over custom cap", [3]float64{0.2, 0.2, 0.2}, 63},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dims, _, err := PlanLimit(Region{Extents: test.extents}, 0.05, test.maxCells)
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeGridTooLarge), "got %v", err)
			require.Equal(t, Dimensions{}, dims)
		})
	}
}

func TestPlanLimitBoundary(t *testing.T) {
	// 4x4x4 = 64 cells fits a cap of exactly 64.
	dims, _, err := PlanLimit(Region{Extents: [3]float64{0.2, 0.2, 0.2}}, 0.05, 64)
	require.NoError(t, err)
	require.Equal(t, 64, dims.Total())

	// An empty axis keeps the total at zero whatever the other axes hold.
	dims, _, err = PlanLimit(Region{Extents: [3]float64{0, 0.2, 0.2}}, 0.05, 16)
	require.NoError(t, err)
	require.Equal(t, Dimensions{0, 4, 4}, dims)

	dims, _, err = Plan(Region{Extents: [3]float64{1e3, 1e3, 1e3}}, 0.05)
	require.True(t, errors.IsType(err, ErrTypeGridTooLarge))
	require.Zero(t, dims.Total())
}

func TestIndexBijective(t *testing.T) {
	for _, d := range []Dimensions{{3, 3, 3}, {1, 7, 2}, {5, 1, 4}, {4, 3, 2}} {
		seen := make([]bool, d.Total())
		for z := 0; z < d.Depth; z++ {
			for y := 0; y < d.Height; y++ {
				for x := 0; x < d.Width; x++ {
					i := d.Index(x, y, z)
					require.True(t, i >= 0 && i < d.Total(), "index %d out of range for %v", i, d)
					require.False(t, seen[i], "index %d visited twice for %v", i, d)
					seen[i] = true

					cx, cy, cz := d.Coord(i)
					require.Equal(t, [3]int{x, y, z}, [3]int{cx, cy, cz})
				}
			}
		}
		for i, ok := range seen {
			require.True(t, ok, "index %d never produced for %v", i, d)
		}
	}
}

func TestIndexXFastest(t *testing.T) {
	d := Dimensions{Width: 4, Height: 3, Depth: 2}
	require.Equal(t, 1, d.Index(1, 0, 0))
	require.Equal(t, 4, d.Index(0, 1, 0))
	require.Equal(t, 12, d.Index(0, 0, 1))
	require.Equal(t, 23, d.Index(3, 2, 1))
}

func TestContains(t *testing.T) {
	d := Dimensions{Width: 2, Height: 2, Depth: 2}
	require.True(t, d.Contains(0, 0, 0))
	require.True(t, d.Contains(1, 1, 1))
	require.False(t, d.Contains(2, 0, 0))
	require.False(t, d.Contains(0, -1, 0))
	require.False(t, Dimensions{0, 4, 4}.Contains(0, 0, 0))
}

func TestCellCenter(t *testing.T) {
	origin := [3]float64{1, -2, 0.5}
	requireVecNear(t, [3]float64{1.05, -1.95, 0.55}, CellCenter(origin, 0.05, 0, 0, 0))
	requireVecNear(t, [3]float64{1.25, -1.75, 0.75}, CellCenter(origin, 0.05, 2, 2, 2))
	requireVecNear(t, [3]float64{1.15, -1.65, 0.55}, CellCenter(origin, 0.05, 1, 3, 0))
}

func TestRegionSizeAndMax(t *testing.T) {
	r := Region{Min: [3]float64{1, 2, 3}, Extents: [3]float64{0.5, 1, 0}}
	require.Equal(t, [3]float64{1, 2, 0}, r.Size())
	require.Equal(t, [3]float64{2, 4, 3}, r.Max())
}

func TestWorkgroups(t *testing.T) {
	tests := []struct {
		dims  Dimensions
		group GroupSize
		want  [3]int
	}{
		{Dimensions{3, 3, 3}, GroupSize{8, 8, 8}, [3]int{1, 1, 1}},
		{Dimensions{16, 17, 1}, GroupSize{8, 8, 1}, [3]int{2, 3, 1}},
		{Dimensions{0, 4, 4}, GroupSize{4, 4, 4}, [3]int{0, 1, 1}},
		{Dimensions{9, 9, 9}, GroupSize{4, 4, 4}, [3]int{3, 3, 3}},
	}
	for _, test := range tests {
		require.Equal(t, test.want, Workgroups(test.dims, test.group), "%v / %v", test.dims, test.group)
	}
	require.Equal(t, 64, GroupSize{4, 4, 4}.Threads())
	require.False(t, GroupSize{0, 1, 1}.Valid())
}

func TestRegionFromWorldIdentity(t *testing.T) {
	r := RegionFromWorld([3]float64{-1, 0, 2}, [3]float64{1, 0.5, 3}, mgl64.Ident4())
	requireVecNear(t, [3]float64{-1, 0, 2}, r.Min)
	requireVecNear(t, [3]float64{1, 0.25, 0.5}, r.Extents)
}

func TestRegionFromWorldTranslated(t *testing.T) {
	localToWorld := mgl64.Translate3D(10, 0, -5)
	r := RegionFromWorld([3]float64{9, -1, -6}, [3]float64{11, 1, -4}, localToWorld.Inv())
	requireVecNear(t, [3]float64{-1, -1, -1}, r.Min)
	requireVecNear(t, [3]float64{1, 1, 1}, r.Extents)
}

func TestRegionFromWorldRotated(t *testing.T) {
	// A quarter turn about Z swaps the X and Y spans.
	localToWorld := mgl64.HomogRotate3DZ(math.Pi / 2)
	r := RegionFromWorld([3]float64{-1, -2, 0}, [3]float64{1, 2, 1}, localToWorld.Inv())
	requireVecNear(t, [3]float64{-2, -1, 0}, r.Min)
	requireVecNear(t, [3]float64{2, 1, 0.5}, r.Extents)
}
