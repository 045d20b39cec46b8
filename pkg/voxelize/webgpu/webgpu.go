//go:build webgpu

// Package webgpu runs the voxelize kernel as a WGSL compute shader through
// github.com/cogentcore/webgpu. Geometry must be a triangle mesh, typically a
// kernel.MeshSolid produced by the tessellate package.
//
// Build with: go build -tags=webgpu
package webgpu

import (
	_ "embed"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/chazu/voxgrid/pkg/grid"
	"github.com/chazu/voxgrid/pkg/kernel"
	"github.com/chazu/voxgrid/pkg/voxelize"
	"github.com/cogentcore/webgpu/wgpu"
)

//go:embed kernel.wgsl
var kernelSource string

// Compile-time interface check.
var _ voxelize.Dispatcher = (*Dispatcher)(nil)

const (
	backendName = "webgpu"
	paramsSize  = 48
	vec4Size    = 16
)

// GroupSize matches the @workgroup_size of kernel.wgsl.
var GroupSize = grid.GroupSize{X: 4, Y: 4, Z: 4}

// Triangulated is geometry the shader can consume.
type Triangulated interface {
	voxelize.Geometry
	Triangles() []kernel.Triangle
}

// Dispatcher owns one device, one compute pipeline and the storage buffers
// it reuses across dispatches. One dispatch runs at a time; a new Dispatch
// blocks until the previous readback has finished.
type Dispatcher struct {
	mu sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	pipeline *wgpu.ComputePipeline
	shader   *wgpu.ShaderModule

	params   *wgpu.Buffer
	tris     *wgpu.Buffer
	trisSize uint64
	cells    *wgpu.Buffer
	readback *wgpu.Buffer
	cellSize uint64

	inflight sync.WaitGroup
	closed   bool
}

// New opens the default adapter and compiles the kernel.
func New() (*Dispatcher, error) {
	d := &Dispatcher{
		instance: wgpu.CreateInstance(nil),
	}

	adapter, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		d.release()
		return nil, errors.New("requesting webgpu adapter failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	d.adapter = adapter

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		d.release()
		return nil, errors.New("requesting webgpu device failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	d.device = device
	d.queue = device.GetQueue()

	if err := d.compile(); err != nil {
		d.release()
		return nil, err
	}

	logs.WithTag("backend", backendName).Info("webgpu dispatcher ready")
	return d, nil
}

func (d *Dispatcher) compile() error {
	shader, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "voxelize",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: kernelSource,
		},
	})
	if err != nil {
		return errors.New("compiling voxelize shader failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	d.shader = shader

	pipeline, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "voxelize",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shader,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return errors.New("creating voxelize pipeline failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	d.pipeline = pipeline

	params, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "voxelize params",
		Size:  paramsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return errors.New("creating params buffer failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	d.params = params
	return nil
}

// Name implements voxelize.Dispatcher.
func (d *Dispatcher) Name() string { return backendName }

// GroupSize implements voxelize.Dispatcher.
func (d *Dispatcher) GroupSize() grid.GroupSize { return GroupSize }

// Dispatch implements voxelize.Dispatcher. The records land in buf when the
// returned fence signals.
func (d *Dispatcher) Dispatch(buf *voxelize.Buffer, p voxelize.Params, g voxelize.Geometry) (*voxelize.Fence, error) {
	d.mu.Lock()
	unlock := true
	defer func() {
		if unlock {
			d.mu.Unlock()
		}
	}()

	if d.closed {
		return nil, errors.New("dispatch on closed dispatcher").
			WithType(voxelize.ErrTypeClosed).
			WithTag("backend", backendName)
	}
	if err := voxelize.CheckDispatch(buf, p); err != nil {
		return nil, err
	}
	if p.Dims.Empty() {
		return voxelize.CompletedFence(), nil
	}

	mesh, ok := g.(Triangulated)
	if !ok || len(mesh.Triangles()) == 0 {
		return nil, errors.New("webgpu dispatch requires triangle geometry").
			WithType(voxelize.ErrTypeUnsupportedGeometry).
			WithTag("backend", backendName)
	}

	start := time.Now()
	if err := d.upload(buf, p, mesh.Triangles()); err != nil {
		return nil, err
	}
	if err := d.encode(p); err != nil {
		return nil, err
	}

	fence := voxelize.NewFence()
	unlock = false
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer d.mu.Unlock()

		if err := d.read(buf); err != nil {
			logs.WithTag("backend", backendName).Error(err)
			fence.Fail(err)
			return
		}
		voxelize.ObserveKernel(backendName, time.Since(start))
		fence.Signal()
	}()
	return fence, nil
}

// upload sizes the storage buffers and writes the kernel inputs. The output
// buffer is released and recreated whenever the cell count changes.
func (d *Dispatcher) upload(buf *voxelize.Buffer, p voxelize.Params, tris []kernel.Triangle) error {
	cellSize := uint64(buf.Len()) * voxelize.RecordSize
	if d.cells == nil || d.cellSize != cellSize {
		d.releaseCells()

		cells, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "voxelize cells",
			Size:  cellSize,
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return errBuffer("cells", cellSize, err)
		}
		readback, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "voxelize readback",
			Size:  cellSize,
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			cells.Release()
			return errBuffer("readback", cellSize, err)
		}
		d.cells = cells
		d.readback = readback
		d.cellSize = cellSize
	}

	triData := encodeTriangles(tris)
	if d.tris == nil || d.trisSize != uint64(len(triData)) {
		if d.tris != nil {
			d.tris.Release()
			d.tris = nil
		}
		t, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "voxelize triangles",
			Size:  uint64(len(triData)),
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return errBuffer("triangles", uint64(len(triData)), err)
		}
		d.tris = t
		d.trisSize = uint64(len(triData))
	}

	zeroed, err := buf.MarshalBinary()
	if err != nil {
		return err
	}
	for _, w := range []struct {
		buf  *wgpu.Buffer
		data []byte
	}{
		{d.params, encodeParams(p, len(tris))},
		{d.tris, triData},
		{d.cells, zeroed},
	} {
		if err := d.queue.WriteBuffer(w.buf, 0, w.data); err != nil {
			return errors.New("writing webgpu buffer failed").
				WithType(voxelize.ErrTypeDispatch).
				Wrap(err)
		}
	}
	return nil
}

func (d *Dispatcher) encode(p voxelize.Params) error {
	bindGroup, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: d.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: d.params, Size: paramsSize},
			{Binding: 1, Buffer: d.tris, Size: d.trisSize},
			{Binding: 2, Buffer: d.cells, Size: d.cellSize},
		},
	})
	if err != nil {
		return errors.New("creating bind group failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	defer bindGroup.Release()

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return errors.New("creating command encoder failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	defer encoder.Release()

	groups := grid.Workgroups(p.Dims, GroupSize)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(d.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(uint32(groups[0]), uint32(groups[1]), uint32(groups[2]))
	pass.End()
	pass.Release()

	encoder.CopyBufferToBuffer(d.cells, 0, d.readback, 0, d.cellSize)

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return errors.New("finishing command buffer failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	defer cmd.Release()

	d.queue.Submit(cmd)
	return nil
}

// read maps the readback buffer and copies the records into buf.
func (d *Dispatcher) read(buf *voxelize.Buffer) error {
	var status wgpu.BufferMapAsyncStatus
	mapped := false
	err := d.readback.MapAsync(wgpu.MapModeRead, 0, d.cellSize, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		mapped = true
	})
	if err != nil {
		return errors.New("mapping readback buffer failed").
			WithType(voxelize.ErrTypeDispatch).
			Wrap(err)
	}
	for !mapped {
		d.device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return errors.New("mapping readback buffer failed").
			WithType(voxelize.ErrTypeDispatch).
			WithTag("status", status.String())
	}
	defer d.readback.Unmap()

	return buf.UnmarshalBinary(d.readback.GetMappedRange(0, uint(d.cellSize)))
}

// Close waits for the last readback and releases every GPU object.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.release()
	logs.WithTag("backend", backendName).Info("webgpu dispatcher closed")
	return nil
}

func (d *Dispatcher) releaseCells() {
	if d.cells != nil {
		d.cells.Release()
		d.cells = nil
	}
	if d.readback != nil {
		d.readback.Release()
		d.readback = nil
	}
	d.cellSize = 0
}

func (d *Dispatcher) release() {
	d.releaseCells()
	if d.tris != nil {
		d.tris.Release()
		d.tris = nil
	}
	if d.params != nil {
		d.params.Release()
		d.params = nil
	}
	if d.pipeline != nil {
		d.pipeline.Release()
		d.pipeline = nil
	}
	if d.shader != nil {
		d.shader.Release()
		d.shader = nil
	}
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// encodeParams lays out the uniform block of kernel.wgsl.
func encodeParams(p voxelize.Params, triCount int) []byte {
	out := make([]byte, paramsSize)
	le := binary.LittleEndian
	le.PutUint32(out[0:], math.Float32bits(float32(p.BoundsMin[0])))
	le.PutUint32(out[4:], math.Float32bits(float32(p.BoundsMin[1])))
	le.PutUint32(out[8:], math.Float32bits(float32(p.BoundsMin[2])))
	le.PutUint32(out[12:], math.Float32bits(float32(p.HalfSize)))
	le.PutUint32(out[16:], uint32(p.Dims.Width))
	le.PutUint32(out[20:], uint32(p.Dims.Height))
	le.PutUint32(out[24:], uint32(p.Dims.Depth))
	le.PutUint32(out[28:], uint32(p.Predicate))
	le.PutUint32(out[32:], uint32(triCount))
	return out
}

// encodeTriangles packs every vertex as a vec4<f32> with w = 1.
func encodeTriangles(tris []kernel.Triangle) []byte {
	out := make([]byte, len(tris)*3*vec4Size)
	le := binary.LittleEndian
	off := 0
	for _, t := range tris {
		for _, v := range t {
			le.PutUint32(out[off:], math.Float32bits(float32(v[0])))
			le.PutUint32(out[off+4:], math.Float32bits(float32(v[1])))
			le.PutUint32(out[off+8:], math.Float32bits(float32(v[2])))
			le.PutUint32(out[off+12:], math.Float32bits(1))
			off += vec4Size
		}
	}
	return out
}

func errBuffer(label string, size uint64, err error) error {
	return errors.New("creating webgpu buffer failed").
		WithType(voxelize.ErrTypeDispatch).
		WithTag("buffer", label).
		WithTag("size", size).
		Wrap(err)
}
