package voxelize

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/grid"
	"github.com/stretchr/testify/require"
)

// constGeometry reports the same signed distance everywhere.
type constGeometry float64

func (g constGeometry) SignedDistance([3]float64) float64 { return float64(g) }

// countingGeometry counts how many invocations reached the geometry.
type countingGeometry struct {
	calls atomic.Int64
	sd    float64
}

func (g *countingGeometry) SignedDistance([3]float64) float64 {
	g.calls.Add(1)
	return g.sd
}

// sphereGeometry is a sphere of radius r centered on c.
type sphereGeometry struct {
	c [3]float64
	r float64
}

func (s sphereGeometry) SignedDistance(p [3]float64) float64 {
	dx, dy, dz := p[0]-s.c[0], p[1]-s.c[1], p[2]-s.c[2]
	return math.Sqrt(dx*dx+dy*dy+dz*dz) - s.r
}

func TestCPUDispatchGuardsOverrun(t *testing.T) {
	tests := []struct {
		name  string
		group grid.GroupSize
		dims  grid.Dimensions
	}{
		{
			name:  "group larger than grid",
			group: grid.GroupSize{X: 8, Y: 8, Z: 8},
			dims:  grid.Dimensions{Width: 3, Height: 3, Depth: 3},
		},
		{
			name:  "group not dividing any axis",
			group: grid.GroupSize{X: 4, Y: 4, Z: 4},
			dims:  grid.Dimensions{Width: 5, Height: 3, Depth: 7},
		},
		{
			name:  "flat group",
			group: grid.GroupSize{X: 16, Y: 1, Z: 1},
			dims:  grid.Dimensions{Width: 17, Height: 2, Depth: 2},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := NewCPUDispatcher(WithGroupSize(test.group), WithWorkers(3))
			defer d.Close()

			buf := NewBuffer(test.dims.Total())
			g := &countingGeometry{sd: -1}
			fence, err := d.Dispatch(buf, Params{
				HalfSize: 0.5,
				Dims:     test.dims,
			}, g)
			require.NoError(t, err)
			fence.Wait()

			require.Equal(t, int64(test.dims.Total()), g.calls.Load())
			require.Equal(t, test.dims.Total(), buf.Len())
			for i, r := range buf.Records() {
				require.Equal(t, float32(1), r.W(), "record %d", i)
			}
		})
	}
}

func TestCPUDispatchWritesCellCenters(t *testing.T) {
	d := NewCPUDispatcher(WithGroupSize(grid.GroupSize{X: 2, Y: 2, Z: 2}))
	defer d.Close()

	dims := grid.Dimensions{Width: 3, Height: 2, Depth: 4}
	origin := [3]float64{-1, 2, 0.5}
	buf := NewBuffer(dims.Total())

	fence, err := d.Dispatch(buf, Params{
		HalfSize:  0.25,
		Dims:      dims,
		BoundsMin: origin,
		Predicate: Distance,
	}, constGeometry(0.75))
	require.NoError(t, err)
	fence.Wait()
	require.True(t, fence.Signaled())

	for i := 0; i < dims.Total(); i++ {
		x, y, z := dims.Coord(i)
		c := grid.CellCenter(origin, 0.25, x, y, z)
		r := buf.At(i)
		require.InDelta(t, c[0], r.X(), 1e-6)
		require.InDelta(t, c[1], r.Y(), 1e-6)
		require.InDelta(t, c[2], r.Z(), 1e-6)
		require.InDelta(t, 0.75, r.W(), 1e-6)
	}
}

func TestCPUDispatchIsIdempotent(t *testing.T) {
	d := NewCPUDispatcher()
	defer d.Close()

	dims := grid.Dimensions{Width: 9, Height: 5, Depth: 6}
	p := Params{
		HalfSize:  0.1,
		Dims:      dims,
		BoundsMin: [3]float64{-0.9, -0.5, -0.6},
	}
	g := sphereGeometry{r: 0.4}

	first := NewBuffer(dims.Total())
	fence, err := d.Dispatch(first, p, g)
	require.NoError(t, err)
	fence.Wait()

	second := NewBuffer(dims.Total())
	fence, err = d.Dispatch(second, p, g)
	require.NoError(t, err)
	fence.Wait()

	require.Equal(t, first.Records(), second.Records())

	var inside int
	for _, r := range first.Records() {
		if r.W() == 1 {
			inside++
		}
	}
	require.NotZero(t, inside)
	require.Less(t, inside, dims.Total())
}

func TestCPUDispatchEmptyGridIsNoop(t *testing.T) {
	d := NewCPUDispatcher()
	defer d.Close()

	g := &countingGeometry{}
	fence, err := d.Dispatch(NewBuffer(0), Params{
		HalfSize: 0.05,
		Dims:     grid.Dimensions{Width: 0, Height: 4, Depth: 4},
	}, g)
	require.NoError(t, err)
	require.True(t, fence.Signaled())
	require.Zero(t, g.calls.Load())
}

func TestCPUDispatchErrors(t *testing.T) {
	dims := grid.Dimensions{Width: 2, Height: 2, Depth: 2}

	tests := []struct {
		name    string
		buf     *Buffer
		params  Params
		geom    Geometry
		errType string
	}{
		{
			name:    "buffer too small",
			buf:     NewBuffer(7),
			params:  Params{HalfSize: 0.5, Dims: dims},
			geom:    constGeometry(0),
			errType: ErrTypeBufferMismatch,
		},
		{
			name:    "buffer too large",
			buf:     NewBuffer(9),
			params:  Params{HalfSize: 0.5, Dims: dims},
			geom:    constGeometry(0),
			errType: ErrTypeBufferMismatch,
		},
		{
			name: "released buffer",
			buf: func() *Buffer {
				b := NewBuffer(8)
				b.Release()
				return b
			}(),
			params:  Params{HalfSize: 0.5, Dims: dims},
			geom:    constGeometry(0),
			errType: ErrTypeBufferMismatch,
		},
		{
			name:    "zero half size",
			buf:     NewBuffer(8),
			params:  Params{Dims: dims},
			geom:    constGeometry(0),
			errType: ErrTypeConfig,
		},
		{
			name:    "missing geometry",
			buf:     NewBuffer(8),
			params:  Params{HalfSize: 0.5, Dims: dims},
			errType: ErrTypeUnsupportedGeometry,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := NewCPUDispatcher()
			defer d.Close()

			fence, err := d.Dispatch(test.buf, test.params, test.geom)
			require.Error(t, err)
			require.Nil(t, fence)
			require.True(t, errors.IsType(err, test.errType), "got %v", err)
		})
	}
}

func TestCPUDispatcherClose(t *testing.T) {
	d := NewCPUDispatcher()

	dims := grid.Dimensions{Width: 4, Height: 4, Depth: 4}
	buf := NewBuffer(dims.Total())
	fence, err := d.Dispatch(buf, Params{HalfSize: 0.5, Dims: dims}, constGeometry(-1))
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.True(t, fence.Signaled())

	_, err = d.Dispatch(buf, Params{HalfSize: 0.5, Dims: dims}, constGeometry(-1))
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeClosed))
}

func TestWithGroupSizeIgnoresInvalid(t *testing.T) {
	d := NewCPUDispatcher(WithGroupSize(grid.GroupSize{X: 0, Y: 4, Z: 4}))
	require.Equal(t, DefaultGroupSize, d.GroupSize())
	require.Equal(t, "cpu", d.Name())
}
