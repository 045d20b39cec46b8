package voxelize

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// RecordSize is the byte size of one record in the produced artifact.
const RecordSize = 16

// Record is one cell sample: the local-space cell center in XYZ and the
// containment test result in W.
type Record = mgl32.Vec4

// Buffer is the linear output of a dispatch, one Record per grid cell in
// grid.Dimensions.Index order. It has a single owner, which releases it.
type Buffer struct {
	records  []Record
	released bool
}

// NewBuffer allocates a zeroed buffer of n records.
func NewBuffer(n int) *Buffer {
	if n < 0 {
		n = 0
	}
	return &Buffer{records: make([]Record, n)}
}

// Len returns the record capacity.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.records)
}

// Records exposes the backing slice. Readers must wait on the dispatch
// fence before looking at it.
func (b *Buffer) Records() []Record {
	if b == nil {
		return nil
	}
	return b.records
}

// At returns record i, or a zero Record when i is out of range or the buffer
// was released.
func (b *Buffer) At(i int) Record {
	if i < 0 || i >= b.Len() {
		return Record{}
	}
	return b.records[i]
}

// Zero clears every record.
func (b *Buffer) Zero() {
	clear(b.records)
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return b != nil && b.released
}

// Release drops the backing storage. Calling it more than once is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.released {
		return
	}
	b.records = nil
	b.released = true
}

// MarshalBinary encodes the records as consecutive little-endian float32
// quadruples [x, y, z, w], RecordSize bytes each.
func (b *Buffer) MarshalBinary() ([]byte, error) {
	out := make([]byte, b.Len()*RecordSize)
	for i, r := range b.Records() {
		off := i * RecordSize
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint32(out[off+c*4:], math.Float32bits(r[c]))
		}
	}
	return out, nil
}

// UnmarshalBinary decodes records produced by MarshalBinary into b,
// replacing its contents. The length must be a multiple of RecordSize.
func (b *Buffer) UnmarshalBinary(data []byte) error {
	if len(data)%RecordSize != 0 {
		return errBadRecordBytes(len(data))
	}
	n := len(data) / RecordSize
	if len(b.records) != n {
		b.records = make([]Record, n)
	}
	b.released = false
	for i := range b.records {
		off := i * RecordSize
		for c := 0; c < 4; c++ {
			b.records[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+c*4:]))
		}
	}
	return nil
}
