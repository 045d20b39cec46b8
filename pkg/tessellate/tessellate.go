// Package tessellate converts solids into triangle-mesh solids for
// voxelize backends that consume geometry as triangles.
package tessellate

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/chazu/voxgrid/pkg/kernel"
)

// Error types returned by Tessellate.
const (
	ErrTypeNoSolid   = "tessellate_no_solid"
	ErrTypeEmptyMesh = "tessellate_empty_mesh"
)

// placement accumulates the rotation and translation applied before meshing.
type placement struct {
	translation [3]float64
	rotation    [3]float64
}

// Option adjusts how a solid is placed before it is meshed.
type Option func(*placement)

// WithTranslation offsets the solid. Repeated options accumulate.
func WithTranslation(x, y, z float64) Option {
	return func(p *placement) {
		p.translation[0] += x
		p.translation[1] += y
		p.translation[2] += z
	}
}

// WithRotation rotates the solid by Euler angles in degrees. Repeated
// options accumulate.
func WithRotation(x, y, z float64) Option {
	return func(p *placement) {
		p.rotation[0] += x
		p.rotation[1] += y
		p.rotation[2] += z
	}
}

// Tessellate meshes s with k and returns the mesh as a solid. Rotation is
// applied before translation. The input solid is never modified.
func Tessellate(k kernel.Kernel, s kernel.Solid, opts ...Option) (*kernel.MeshSolid, error) {
	if s == nil {
		return nil, errors.New("tessellate requires a solid").WithType(ErrTypeNoSolid)
	}

	var p placement
	for _, opt := range opts {
		opt(&p)
	}

	if r := p.rotation; r != [3]float64{} {
		s = k.Rotate(s, r[0], r[1], r[2])
	}
	if t := p.translation; t != [3]float64{} {
		s = k.Translate(s, t[0], t[1], t[2])
	}

	mesh, err := k.ToMesh(s)
	if err != nil {
		return nil, errors.New("meshing solid failed").
			WithType(ErrTypeEmptyMesh).
			Wrap(err)
	}

	ms, err := kernel.NewMeshSolid(mesh)
	if err != nil {
		return nil, errors.New("mesh has no triangles").
			WithType(ErrTypeEmptyMesh).
			Wrap(err)
	}

	logs.WithTag("triangles", mesh.TriangleCount()).
		WithTag("vertices", mesh.VertexCount()).
		Debug("solid tessellated")
	return ms, nil
}
