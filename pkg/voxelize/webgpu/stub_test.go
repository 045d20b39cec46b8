//go:build !webgpu

package webgpu

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/voxelize"
)

func TestNewReturnsError(t *testing.T) {
	d, err := New()
	if err == nil {
		t.Fatal("New() error = nil, want non-nil error when webgpu tag is not set")
	}
	if d != nil {
		t.Fatal("New() returned non-nil dispatcher, want nil when webgpu tag is not set")
	}
	if !errors.IsType(err, voxelize.ErrTypeDispatch) {
		t.Errorf("New() error type = %q, want %q", errors.Type(err), voxelize.ErrTypeDispatch)
	}
}
