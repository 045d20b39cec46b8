package kernel

// Mesh is a triangle mesh.
// All arrays are flat: vertices has 3 floats per vertex (x,y,z),
// normals has 3 floats per vertex, indices has 3 uint32s per triangle.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
}

// Triangle is three vertex positions.
type Triangle [3][3]float64

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// Triangle returns the i-th triangle resolved through the index array.
func (m *Mesh) Triangle(i int) Triangle {
	var t Triangle
	for j := 0; j < 3; j++ {
		v := int(m.Indices[i*3+j]) * 3
		t[j] = [3]float64{
			float64(m.Vertices[v]),
			float64(m.Vertices[v+1]),
			float64(m.Vertices[v+2]),
		}
	}
	return t
}
