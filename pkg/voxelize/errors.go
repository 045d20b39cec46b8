package voxelize

import "github.com/aukilabs/go-tooling/pkg/errors"

// Error types attached with errors.WithType. Callers match them with
// errors.IsType.
const (
	ErrTypeConfig              = "voxelize_config"
	ErrTypeGeometryNotReady    = "voxelize_geometry_not_ready"
	ErrTypeGridTooLarge        = "voxelize_grid_too_large"
	ErrTypeBufferMismatch      = "voxelize_buffer_mismatch"
	ErrTypeDispatch            = "voxelize_dispatch"
	ErrTypeUnsupportedGeometry = "voxelize_unsupported_geometry"
	ErrTypeClosed              = "voxelize_closed"
)

func errBadRecordBytes(n int) error {
	return errors.New("record data is not a whole number of records").
		WithType(ErrTypeBufferMismatch).
		WithTag("bytes", n)
}

func errBufferMismatch(have, want int) error {
	return errors.New("buffer length does not match grid cell count").
		WithType(ErrTypeBufferMismatch).
		WithTag("buffer_len", have).
		WithTag("cell_count", want)
}
