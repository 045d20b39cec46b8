package voxelize

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/grid"
)

// Dispatcher runs the voxelize kernel: one logical invocation per grid cell,
// launched in thread groups of GroupSize. Dispatch returns once the work is
// issued; the returned fence signals when every cell has been written.
type Dispatcher interface {
	Name() string
	GroupSize() grid.GroupSize
	Dispatch(buf *Buffer, p Params, g Geometry) (*Fence, error)
	Close() error
}

// DefaultGroupSize is the thread-group shape of the CPU kernel.
var DefaultGroupSize = grid.GroupSize{X: 8, Y: 8, Z: 8}

// CheckDispatch verifies the preconditions every dispatcher shares: a valid
// half size and a live buffer holding exactly one record per cell.
func CheckDispatch(buf *Buffer, p Params) error {
	if err := grid.ValidateHalfSize(p.HalfSize); err != nil {
		return errors.New("invalid dispatch parameters").
			WithType(ErrTypeConfig).
			Wrap(err)
	}
	if p.Dims.Width < 0 || p.Dims.Height < 0 || p.Dims.Depth < 0 {
		return errors.New("negative grid dimension").
			WithType(ErrTypeConfig).
			WithTag("dims", p.Dims)
	}
	if buf.Released() {
		return errors.New("dispatch into released buffer").
			WithType(ErrTypeBufferMismatch)
	}
	if buf.Len() != p.Dims.Total() {
		return errBufferMismatch(buf.Len(), p.Dims.Total())
	}
	return nil
}

// CPUDispatcher executes the kernel on goroutines. Thread groups are pulled
// from a shared counter by a fixed set of workers; invocations that fall
// outside the grid because of group rounding exit without writing.
// Geometry passed to Dispatch must be safe for concurrent reads.
type CPUDispatcher struct {
	group   grid.GroupSize
	workers int

	mu       sync.Mutex
	inflight sync.WaitGroup
	closed   bool
}

// CPUOption configures a CPUDispatcher.
type CPUOption func(*CPUDispatcher)

// WithGroupSize overrides the thread-group shape. Invalid shapes are ignored.
func WithGroupSize(g grid.GroupSize) CPUOption {
	return func(d *CPUDispatcher) {
		if g.Valid() {
			d.group = g
		}
	}
}

// WithWorkers sets how many goroutines execute thread groups.
func WithWorkers(n int) CPUOption {
	return func(d *CPUDispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewCPUDispatcher returns a dispatcher using DefaultGroupSize and one worker
// per CPU.
func NewCPUDispatcher(opts ...CPUOption) *CPUDispatcher {
	d := &CPUDispatcher{
		group:   DefaultGroupSize,
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements Dispatcher.
func (d *CPUDispatcher) Name() string { return "cpu" }

// GroupSize implements Dispatcher.
func (d *CPUDispatcher) GroupSize() grid.GroupSize { return d.group }

// Dispatch implements Dispatcher.
func (d *CPUDispatcher) Dispatch(buf *Buffer, p Params, g Geometry) (*Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("dispatch on closed dispatcher").
			WithType(ErrTypeClosed).
			WithTag("backend", d.Name())
	}
	if err := CheckDispatch(buf, p); err != nil {
		return nil, err
	}
	if p.Dims.Empty() {
		return CompletedFence(), nil
	}
	if g == nil {
		return nil, errors.New("dispatch without geometry").
			WithType(ErrTypeUnsupportedGeometry)
	}

	fence := NewFence()
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer fence.Signal()

		start := time.Now()
		d.run(buf.Records(), p, g)
		observeKernel(d.Name(), time.Since(start))
	}()
	return fence, nil
}

// Close waits for in-flight dispatches and rejects new ones.
func (d *CPUDispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	return nil
}

func (d *CPUDispatcher) run(records []Record, p Params, g Geometry) {
	groups := grid.Workgroups(p.Dims, d.group)
	count := int64(groups[0] * groups[1] * groups[2])

	workers := int64(d.workers)
	if workers > count {
		workers = count
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(int(workers))
	for w := int64(0); w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				gi := next.Add(1) - 1
				if gi >= count {
					return
				}
				gx := int(gi) % groups[0]
				gy := int(gi) / groups[0] % groups[1]
				gz := int(gi) / (groups[0] * groups[1])
				d.runGroup(records, p, g, gx, gy, gz)
			}
		}()
	}
	wg.Wait()
}

func (d *CPUDispatcher) runGroup(records []Record, p Params, g Geometry, gx, gy, gz int) {
	for lz := 0; lz < d.group.Z; lz++ {
		for ly := 0; ly < d.group.Y; ly++ {
			for lx := 0; lx < d.group.X; lx++ {
				invoke(records, p, g,
					gx*d.group.X+lx,
					gy*d.group.Y+ly,
					gz*d.group.Z+lz,
				)
			}
		}
	}
}

// invoke is the kernel body for one global invocation id.
func invoke(records []Record, p Params, g Geometry, x, y, z int) {
	if !p.Dims.Contains(x, y, z) {
		return
	}

	c := grid.CellCenter(p.BoundsMin, p.HalfSize, x, y, z)
	w := p.Predicate.Eval(g.SignedDistance(c), p.HalfSize)
	records[p.Dims.Index(x, y, z)] = Record{float32(c[0]), float32(c[1]), float32(c[2]), w}
}
