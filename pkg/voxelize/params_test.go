package voxelize

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/grid"
	"github.com/stretchr/testify/require"
)

func TestPredicateEval(t *testing.T) {
	const h = 0.05
	reach := h * math.Sqrt(3)

	tests := []struct {
		name      string
		predicate Predicate
		sd        float64
		want      float32
	}{
		{"inside deep", Inside, -1, 1},
		{"inside on surface", Inside, 0, 1},
		{"inside outside", Inside, 0.01, 0},
		{"surface within reach", Surface, reach * 0.9, 1},
		{"surface inside within reach", Surface, -reach * 0.9, 1},
		{"surface beyond reach", Surface, reach * 1.1, 0},
		{"surface deep inside", Surface, -1, 0},
		{"distance", Distance, -0.375, -0.375},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, test.predicate.Eval(test.sd, h))
		})
	}
}

func TestParsePredicate(t *testing.T) {
	for _, p := range []Predicate{Inside, Surface, Distance} {
		parsed, err := ParsePredicate(p.String())
		require.NoError(t, err)
		require.Equal(t, p, parsed)
	}

	p, err := ParsePredicate(" Surface ")
	require.NoError(t, err)
	require.Equal(t, Surface, p)

	p, err = ParsePredicate("")
	require.NoError(t, err)
	require.Equal(t, Inside, p)

	_, err = ParsePredicate("outline")
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeConfig))
	require.Equal(t, "unknown", Predicate(42).String())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.Equal(t, DefaultCellHalfSize, DefaultConfig().CellHalfSize)

	for _, h := range []float64{0, -0.05, math.NaN(), math.Inf(1)} {
		cfg := DefaultConfig()
		cfg.CellHalfSize = h
		err := cfg.Validate()
		require.Error(t, err, "half size %v", h)
		require.True(t, errors.IsType(err, ErrTypeConfig))
	}

	cfg := DefaultConfig()
	cfg.MaxCells = -1
	require.True(t, errors.IsType(cfg.Validate(), ErrTypeConfig))

	require.Equal(t, grid.DefaultMaxCells, DefaultConfig().maxCells())
	cfg.MaxCells = 100
	require.Equal(t, 100, cfg.maxCells())
}
