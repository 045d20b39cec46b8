// Package scene holds the object being voxelized: a solid in its own local
// space and the pose that places it in the world each frame.
package scene

import (
	"math"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/kernel"
	"github.com/chazu/voxgrid/pkg/voxelize"
	"github.com/go-gl/mathgl/mgl64"
)

// Compile-time interface check.
var _ voxelize.Source = (*Object)(nil)

// Pose places an object in the world. Rotation is applied in X, Y, Z order
// about the local origin, then the object is moved to Position.
type Pose struct {
	Position [3]float64
	EulerDeg [3]float64
}

// Matrix returns the local-to-world transform of the pose.
func (p Pose) Matrix() mgl64.Mat4 {
	rx := mgl64.HomogRotate3DX(mgl64.DegToRad(p.EulerDeg[0]))
	ry := mgl64.HomogRotate3DY(mgl64.DegToRad(p.EulerDeg[1]))
	rz := mgl64.HomogRotate3DZ(mgl64.DegToRad(p.EulerDeg[2]))
	t := mgl64.Translate3D(p.Position[0], p.Position[1], p.Position[2])
	return t.Mul4(rz).Mul4(ry).Mul4(rx)
}

// Object is a solid with a mutable pose. It is safe for concurrent use.
type Object struct {
	mu    sync.RWMutex
	name  string
	solid kernel.Solid
	pose  Pose
}

// NewObject returns an object named name. A nil solid is allowed; the
// object then reports its geometry as not ready.
func NewObject(name string, s kernel.Solid) *Object {
	return &Object{name: name, solid: s}
}

// Name returns the object's name.
func (o *Object) Name() string {
	return o.name
}

// SetSolid replaces the geometry.
func (o *Object) SetSolid(s kernel.Solid) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.solid = s
}

// Solid returns the current geometry.
func (o *Object) Solid() kernel.Solid {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.solid
}

// Pose returns the current pose.
func (o *Object) Pose() Pose {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pose
}

// SetPose replaces the pose.
func (o *Object) SetPose(p Pose) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pose = p
}

// Rotate adds deg to the pose's Euler angles, wrapping each into [0, 360).
func (o *Object) Rotate(deg [3]float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range deg {
		o.pose.EulerDeg[i] = math.Mod(o.pose.EulerDeg[i]+deg[i], 360)
		if o.pose.EulerDeg[i] < 0 {
			o.pose.EulerDeg[i] += 360
		}
	}
}

// LocalToWorld implements voxelize.Source.
func (o *Object) LocalToWorld() mgl64.Mat4 {
	return o.Pose().Matrix()
}

// WorldBounds implements voxelize.Source. It returns the world-space box
// enclosing the transformed local bounding box.
func (o *Object) WorldBounds() (min, max [3]float64, err error) {
	o.mu.RLock()
	s, pose := o.solid, o.pose
	o.mu.RUnlock()

	if s == nil {
		return min, max, errors.New("object has no solid").
			WithType(voxelize.ErrTypeGeometryNotReady).
			WithTag("object", o.name)
	}

	localMin, localMax := s.BoundingBox()
	for i := 0; i < 3; i++ {
		if math.IsNaN(localMin[i]) || math.IsNaN(localMax[i]) || localMin[i] > localMax[i] {
			return min, max, errors.New("object has invalid bounds").
				WithType(voxelize.ErrTypeGeometryNotReady).
				WithTag("object", o.name).
				WithTag("bounds_min", localMin).
				WithTag("bounds_max", localMax)
		}
	}

	m := pose.Matrix()
	min = [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	max = [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for corner := 0; corner < 8; corner++ {
		p := mgl64.Vec4{localMin[0], localMin[1], localMin[2], 1}
		for axis := 0; axis < 3; axis++ {
			if corner&(1<<axis) != 0 {
				p[axis] = localMax[axis]
			}
		}
		w := m.Mul4x1(p)
		for axis := 0; axis < 3; axis++ {
			min[axis] = math.Min(min[axis], w[axis])
			max[axis] = math.Max(max[axis], w[axis])
		}
	}
	return min, max, nil
}

// Geometry implements voxelize.Source. It returns nil when no solid is
// attached.
func (o *Object) Geometry() voxelize.Geometry {
	s := o.Solid()
	if s == nil {
		return nil
	}
	return s
}
