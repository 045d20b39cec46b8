//go:build !webgpu

// Package webgpu runs the voxelize kernel as a WGSL compute shader. When the
// "webgpu" build tag is not set, this stub is compiled instead, returning an
// error from New().
//
// Build with: go build -tags=webgpu
package webgpu

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/voxelize"
)

// New returns an error indicating the webgpu backend is not available.
// Build with -tags=webgpu to enable.
func New() (voxelize.Dispatcher, error) {
	return nil, errors.New("webgpu dispatcher not available: build with -tags=webgpu").
		WithType(voxelize.ErrTypeDispatch)
}
