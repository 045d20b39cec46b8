package kernel

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrTypeEmptyMesh marks a mesh with no triangles.
const ErrTypeEmptyMesh = "kernel_empty_mesh"

// Compile-time interface check.
var _ Solid = (*MeshSolid)(nil)

// MeshSolid is a closed triangle mesh answering signed-distance queries.
// The magnitude is the distance to the nearest triangle; the sign comes from
// the generalized winding number, which tolerates either triangle winding
// and small cracks in the surface.
type MeshSolid struct {
	tris     []Triangle
	min, max [3]float64
}

// NewMeshSolid builds a MeshSolid from m. An empty mesh is an error.
func NewMeshSolid(m *Mesh) (*MeshSolid, error) {
	if m == nil || m.IsEmpty() || m.TriangleCount() == 0 {
		return nil, errors.New("mesh solid requires at least one triangle").
			WithType(ErrTypeEmptyMesh)
	}

	tris := make([]Triangle, m.TriangleCount())
	for i := range tris {
		tris[i] = m.Triangle(i)
	}
	return NewMeshSolidFromTriangles(tris)
}

// NewMeshSolidFromTriangles builds a MeshSolid from explicit triangles.
func NewMeshSolidFromTriangles(tris []Triangle) (*MeshSolid, error) {
	if len(tris) == 0 {
		return nil, errors.New("mesh solid requires at least one triangle").
			WithType(ErrTypeEmptyMesh)
	}

	s := &MeshSolid{
		tris: tris,
		min:  [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)},
		max:  [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
	for _, t := range tris {
		for _, v := range t {
			for axis := 0; axis < 3; axis++ {
				s.min[axis] = math.Min(s.min[axis], v[axis])
				s.max[axis] = math.Max(s.max[axis], v[axis])
			}
		}
	}
	return s, nil
}

// Triangles returns the triangles backing the solid. The slice is shared.
func (s *MeshSolid) Triangles() []Triangle {
	return s.tris
}

// BoundingBox returns the axis-aligned bounding box of the vertices.
func (s *MeshSolid) BoundingBox() (min, max [3]float64) {
	return s.min, s.max
}

// SignedDistance returns the distance to the nearest triangle, negated when
// p is enclosed by the mesh.
func (s *MeshSolid) SignedDistance(p [3]float64) float64 {
	q := mgl64.Vec3(p)
	best := math.Inf(1)
	var solidAngle float64

	for _, t := range s.tris {
		a := mgl64.Vec3(t[0])
		b := mgl64.Vec3(t[1])
		c := mgl64.Vec3(t[2])

		if d := q.Sub(closestPointOnTriangle(q, a, b, c)).LenSqr(); d < best {
			best = d
		}
		solidAngle += triangleSolidAngle(a.Sub(q), b.Sub(q), c.Sub(q))
	}

	dist := math.Sqrt(best)
	if math.Abs(solidAngle/(4*math.Pi)) >= 0.5 {
		return -dist
	}
	return dist
}

// triangleSolidAngle is the signed solid angle subtended by a triangle whose
// vertices are given relative to the query point (Van Oosterom-Strackee).
func triangleSolidAngle(a, b, c mgl64.Vec3) float64 {
	la, lb, lc := a.Len(), b.Len(), c.Len()
	num := a.Dot(b.Cross(c))
	den := la*lb*lc + a.Dot(b)*lc + b.Dot(c)*la + c.Dot(a)*lb
	return 2 * math.Atan2(num, den)
}

// closestPointOnTriangle follows Ericson, Real-Time Collision Detection 5.1.5.
func closestPointOnTriangle(p, a, b, c mgl64.Vec3) mgl64.Vec3 {
	ab := b.Sub(a)
	ac := c.Sub(a)
	ap := p.Sub(a)

	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}

	bp := p.Sub(b)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		return a.Add(ab.Mul(d1 / (d1 - d3)))
	}

	cp := p.Sub(c)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		return a.Add(ac.Mul(d2 / (d2 - d6)))
	}

	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 {
		return b.Add(c.Sub(b).Mul((d4 - d3) / ((d4 - d3) + (d5 - d6))))
	}

	denom := 1 / (va + vb + vc)
	v := vb * denom
	w := vc * denom
	return a.Add(ab.Mul(v)).Add(ac.Mul(w))
}
