package voxelize

import "github.com/go-gl/mathgl/mgl64"

// Geometry is the mesh handle a dispatch tests cell centers against.
type Geometry interface {
	// SignedDistance returns the distance from a local-space point to the
	// surface, negative inside.
	SignedDistance(p [3]float64) float64
}

// Source supplies the per-frame state of the voxelized object.
type Source interface {
	// WorldBounds returns the current world-space axis-aligned bounds.
	// An error typed ErrTypeGeometryNotReady means the frame is skipped.
	WorldBounds() (min, max [3]float64, err error)

	// LocalToWorld returns the object's current transform.
	LocalToWorld() mgl64.Mat4

	// Geometry returns the handle the kernel tests against.
	Geometry() Geometry
}

// Drawer consumes a frame after it was dispatched. It must call Frame.Wait
// before reading the buffer.
type Drawer interface {
	Draw(f Frame)
}

// DrawerFunc adapts a function to the Drawer interface.
type DrawerFunc func(f Frame)

// Draw calls fn(f).
func (fn DrawerFunc) Draw(f Frame) {
	fn(f)
}
