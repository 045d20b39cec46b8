package voxelize

import (
	"math"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/chazu/voxgrid/pkg/grid"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Transforms whose determinant is this close to zero cannot be inverted
// into a usable local region.
const minDeterminant = 1e-12

// FrameContext identifies the frame a Tick belongs to.
type FrameContext struct {
	Index uint64
	Time  time.Duration
}

// Frame is what a tick hands to the visualization consumer.
type Frame struct {
	Index        uint64
	Buffer       *Buffer
	Count        int
	Dims         grid.Dimensions
	BoundsMin    [3]float64
	HalfSize     float64
	LocalToWorld mgl32.Mat4

	fence *Fence
}

// Wait blocks until the frame's dispatch has finished. A non-nil error means
// the buffer does not hold this frame's records.
func (f Frame) Wait() error {
	return f.fence.Wait()
}

// Fence returns the frame's dispatch fence.
func (f Frame) Fence() *Fence {
	return f.fence
}

// Voxelizer recomputes the grid of one object each frame, keeps the output
// buffer sized to it and dispatches the kernel. Tick and Close must be
// called from a single goroutine.
type Voxelizer struct {
	id         string
	cfg        Config
	source     Source
	dispatcher Dispatcher
	drawer     Drawer

	buffer  *Buffer
	pending *Fence
	last    Frame
	closed  bool
}

// Option configures a Voxelizer.
type Option func(*Voxelizer)

// WithDrawer sets the consumer that receives every dispatched frame.
func WithDrawer(d Drawer) Option {
	return func(v *Voxelizer) {
		v.drawer = d
	}
}

// New validates cfg and returns a Voxelizer sampling src with d. The
// dispatcher stays owned by the caller.
func New(cfg Config, src Source, d Dispatcher, opts ...Option) (*Voxelizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, errors.New("voxelizer requires a source").WithType(ErrTypeConfig)
	}
	if d == nil {
		return nil, errors.New("voxelizer requires a dispatcher").WithType(ErrTypeConfig)
	}

	v := &Voxelizer{
		id:         uuid.NewString(),
		cfg:        cfg,
		source:     src,
		dispatcher: d,
	}
	for _, opt := range opts {
		opt(v)
	}

	logs.WithTag("voxelizer_id", v.id).
		WithTag("backend", d.Name()).
		WithTag("half_size", cfg.CellHalfSize).
		WithTag("predicate", cfg.Predicate.String()).
		Info("voxelizer created")
	return v, nil
}

// ID returns the instance id used in logs.
func (v *Voxelizer) ID() string {
	return v.id
}

// Config returns the configuration the voxelizer was built with.
func (v *Voxelizer) Config() Config {
	return v.cfg
}

// Buffer returns the current output buffer, nil before the first dispatch
// and after Close.
func (v *Voxelizer) Buffer() *Buffer {
	return v.buffer
}

// SetDrawDebug toggles voxelization without rebuilding the voxelizer.
func (v *Voxelizer) SetDrawDebug(enabled bool) {
	v.cfg.DrawDebug = enabled
}

// LastFrame returns the most recently dispatched frame.
func (v *Voxelizer) LastFrame() Frame {
	return v.last
}

// Tick voxelizes the source for one frame. It returns once the kernel is
// issued; readers of the returned buffer must call Frame.Wait first. When
// DrawDebug is off it returns a zero Frame. When the source geometry is not
// ready the frame is skipped with an error typed ErrTypeGeometryNotReady.
func (v *Voxelizer) Tick(fc FrameContext) (Frame, error) {
	if v.closed {
		return Frame{}, errors.New("tick on closed voxelizer").
			WithType(ErrTypeClosed).
			WithTag("voxelizer_id", v.id)
	}
	if !v.cfg.DrawDebug {
		return Frame{}, nil
	}

	start := time.Now()
	backend := v.dispatcher.Name()

	// Step 1: read the current bounds and geometry.
	worldMin, worldMax, err := v.source.WorldBounds()
	if err != nil {
		return Frame{}, v.skip(fc, skipReasonGeometry, errors.New("skipping frame without geometry").
			WithType(ErrTypeGeometryNotReady).
			WithTag("frame", fc.Index).
			Wrap(err))
	}
	geometry := v.source.Geometry()
	if geometry == nil {
		return Frame{}, v.skip(fc, skipReasonGeometry, errors.New("skipping frame without geometry").
			WithType(ErrTypeGeometryNotReady).
			WithTag("frame", fc.Index))
	}

	// Step 2: move the bounds into local space and plan the grid.
	localToWorld := v.source.LocalToWorld()
	if det := localToWorld.Det(); !(math.Abs(det) > minDeterminant) {
		return Frame{}, v.skip(fc, skipReasonGeometry, errors.New("skipping frame with singular transform").
			WithType(ErrTypeGeometryNotReady).
			WithTag("frame", fc.Index).
			WithTag("determinant", det))
	}
	region := grid.RegionFromWorld(worldMin, worldMax, localToWorld.Inv())
	dims, boundsMin, err := grid.PlanLimit(region, v.cfg.CellHalfSize, v.cfg.maxCells())
	switch {
	case err == nil:
	case errors.IsType(err, grid.ErrTypeGridTooLarge):
		return Frame{}, v.skip(fc, skipReasonGridTooLarge, errors.New("skipping frame with oversized grid").
			WithType(ErrTypeGridTooLarge).
			WithTag("frame", fc.Index).
			Wrap(err))
	default:
		return Frame{}, errors.New("planning voxel grid failed").
			WithType(ErrTypeConfig).
			Wrap(err)
	}

	// Step 3: the previous dispatch must finish before its buffer is
	// released or overwritten.
	v.pending.Wait()

	// Step 4: size the buffer to the grid, then clear stale records.
	if v.buffer == nil || v.buffer.Len() != dims.Total() {
		previous := v.buffer.Len()
		v.buffer.Release()
		v.buffer = NewBuffer(dims.Total())
		bufferReallocations.Inc()

		logs.WithTag("voxelizer_id", v.id).
			WithTag("previous_cells", previous).
			WithTag("cells", dims.Total()).
			Debug("output buffer reallocated")
	} else {
		v.buffer.Zero()
	}

	// Step 5: dispatch.
	params := Params{
		HalfSize:  v.cfg.CellHalfSize,
		Dims:      dims,
		BoundsMin: boundsMin,
		Predicate: v.cfg.Predicate,
	}
	fence, err := v.dispatcher.Dispatch(v.buffer, params, geometry)
	if err != nil {
		return Frame{}, v.skip(fc, skipReasonDispatch, errors.New("voxelize dispatch failed").
			WithType(ErrTypeDispatch).
			WithTag("backend", backend).
			WithTag("frame", fc.Index).
			Wrap(err))
	}
	v.pending = fence

	frame := Frame{
		Index:        fc.Index,
		Buffer:       v.buffer,
		Count:        v.buffer.Len(),
		Dims:         dims,
		BoundsMin:    boundsMin,
		HalfSize:     v.cfg.CellHalfSize,
		LocalToWorld: toMat32(localToWorld),
		fence:        fence,
	}
	v.last = frame

	ticksTotal.With(prometheus.Labels{backendLabel: backend}).Inc()
	gridCells.Set(float64(frame.Count))
	tickDuration.With(prometheus.Labels{backendLabel: backend}).Observe(time.Since(start).Seconds())

	// Step 6: hand the frame to the consumer.
	if v.drawer != nil {
		v.drawer.Draw(frame)
	}
	return frame, nil
}

func (v *Voxelizer) skip(fc FrameContext, reason string, err error) error {
	skippedTicks.With(prometheus.Labels{reasonLabel: reason}).Inc()
	logs.WithTag("voxelizer_id", v.id).
		WithTag("frame", fc.Index).
		WithTag("reason", reason).
		Debug(err)
	return err
}

// Close waits for the last dispatch and releases the output buffer. It is
// safe to call more than once; only the first call does any work.
func (v *Voxelizer) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true

	v.pending.Wait()
	v.pending = nil
	v.buffer.Release()
	v.buffer = nil

	logs.WithTag("voxelizer_id", v.id).Info("voxelizer closed")
	return nil
}

func toMat32(m mgl64.Mat4) mgl32.Mat4 {
	var out mgl32.Mat4
	for i := range m {
		out[i] = float32(m[i])
	}
	return out
}
