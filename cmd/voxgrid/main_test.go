package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/grid"
	"github.com/chazu/voxgrid/pkg/kernel/sdfx"
	"github.com/chazu/voxgrid/pkg/scene"
	"github.com/chazu/voxgrid/pkg/voxelize"
	"github.com/stretchr/testify/require"
)

func TestLoadScene(t *testing.T) {
	k := sdfx.New()

	t.Run("default", func(t *testing.T) {
		s, err := loadScene(k, "")
		require.NoError(t, err)
		min, max := s.BoundingBox()
		require.InDelta(t, -1, min[0], 1e-9)
		require.InDelta(t, 1, max[0], 1e-9)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "block.vox")
		require.NoError(t, os.WriteFile(path, []byte(`(box 1 2 3)`), 0o644))

		s, err := loadScene(k, path)
		require.NoError(t, err)
		_, max := s.BoundingBox()
		require.InDelta(t, 3, max[2], 1e-9)
		require.Equal(t, "block", sceneName(path))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadScene(k, filepath.Join(t.TempDir(), "nope.vox"))
		require.Error(t, err)
	})

	t.Run("script error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.vox")
		require.NoError(t, os.WriteFile(path, []byte(`(sphere)`), 0o644))
		_, err := loadScene(k, path)
		require.Error(t, err)
	})
}

func TestNewDispatcherRejectsUnknownBackend(t *testing.T) {
	k := sdfx.New()
	_, _, err := newDispatcher(config{Backend: "vulkan"}, k, k.Sphere(1))
	require.True(t, errors.IsType(err, voxelize.ErrTypeConfig))
}

func TestLoopRunsFrames(t *testing.T) {
	k := sdfx.New()
	object := scene.NewObject("ball", k.Sphere(0.5))

	d := voxelize.NewCPUDispatcher()
	defer d.Close()

	stats := newFrameStats(voxelize.Inside)
	v, err := voxelize.New(voxelize.Config{
		CellHalfSize: 0.1,
		DrawDebug:    true,
	}, object, d, voxelize.WithDrawer(stats))
	require.NoError(t, err)
	defer v.Close()

	conf := config{
		Frames:        3,
		FrameInterval: time.Millisecond,
		SpinDegPerSec: 90,
	}
	require.NoError(t, loop(context.Background(), conf, object, v))

	sum := stats.summary(d.Name())
	require.Equal(t, 3, sum.Frames)
	require.Equal(t, "cpu", sum.Backend)
	require.Equal(t, "inside", sum.Predicate)
	require.NotZero(t, sum.LastCells)
	require.NotZero(t, sum.Occupied)
	require.Less(t, sum.Occupied, sum.LastCells)
	require.Equal(t, sum.LastCells, sum.LastDims[0]*sum.LastDims[1]*sum.LastDims[2])
}

func TestLoopStopsOnCancel(t *testing.T) {
	object := scene.NewObject("empty", nil)

	d := voxelize.NewCPUDispatcher()
	defer d.Close()

	v, err := voxelize.New(voxelize.Config{CellHalfSize: 0.1, DrawDebug: true}, object, d)
	require.NoError(t, err)
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, loop(ctx, config{FrameInterval: time.Millisecond}, object, v))
}

func TestFrameStatsDistance(t *testing.T) {
	s := newFrameStats(voxelize.Distance)
	require.True(t, s.marked(-0.2))
	require.True(t, s.marked(0))
	require.False(t, s.marked(0.3))

	s = newFrameStats(voxelize.Surface)
	require.True(t, s.marked(1))
	require.False(t, s.marked(0))
}

func TestMetricsPathFormatter(t *testing.T) {
	require.Equal(t, "/metrics", metricsPathFormatter(200, "/metrics"))
	require.Empty(t, metricsPathFormatter(404, "/wp-admin"))
	require.Empty(t, metricsPathFormatter(405, "/metrics"))
}

func TestFrameStatsSkipsFailedFrames(t *testing.T) {
	k := sdfx.New()
	object := scene.NewObject("ball", k.Sphere(0.5))
	d := failingDispatcher{}

	stats := newFrameStats(voxelize.Inside)
	v, err := voxelize.New(voxelize.Config{
		CellHalfSize: 0.25,
		DrawDebug:    true,
	}, object, d, voxelize.WithDrawer(stats))
	require.NoError(t, err)
	defer v.Close()

	_, err = v.Tick(voxelize.FrameContext{Index: 1})
	require.NoError(t, err)

	sum := stats.summary(d.Name())
	require.Equal(t, 0, sum.Frames)
	require.Equal(t, 1, sum.Failed)
	require.Zero(t, sum.LastCells)
}

// failingDispatcher issues every dispatch and then fails its fence, as a
// backend does when reading results back goes wrong.
type failingDispatcher struct{}

func (failingDispatcher) Name() string              { return "failing" }
func (failingDispatcher) GroupSize() grid.GroupSize { return voxelize.DefaultGroupSize }
func (failingDispatcher) Close() error              { return nil }

func (failingDispatcher) Dispatch(buf *voxelize.Buffer, p voxelize.Params, g voxelize.Geometry) (*voxelize.Fence, error) {
	if err := voxelize.CheckDispatch(buf, p); err != nil {
		return nil, err
	}
	f := voxelize.NewFence()
	f.Fail(errors.New("readback failed").WithType(voxelize.ErrTypeDispatch))
	return f, nil
}
