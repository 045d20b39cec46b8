package main

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/chazu/voxgrid/pkg/voxelize"
)

// frameStats is the frame consumer: it waits for each dispatch and counts
// the cells the predicate marked.
type frameStats struct {
	predicate voxelize.Predicate

	mu       sync.Mutex
	frames   int
	failed   int
	cells    int
	occupied int
	maxCells int
	lastDims [3]int
}

type statsSummary struct {
	Backend   string  `json:"backend"`
	Predicate string  `json:"predicate"`
	Frames    int     `json:"frames"`
	Failed    int     `json:"failed_frames"`
	LastCells int     `json:"last_cells"`
	MaxCells  int     `json:"max_cells"`
	LastDims  [3]int  `json:"last_dims"`
	Occupied  int     `json:"last_occupied"`
	Fill      float64 `json:"last_fill"`
}

func newFrameStats(p voxelize.Predicate) *frameStats {
	return &frameStats{predicate: p}
}

// Draw implements voxelize.Drawer. Frames whose dispatch failed are counted
// and otherwise ignored.
func (s *frameStats) Draw(f voxelize.Frame) {
	if err := f.Wait(); err != nil {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()

		logs.Warn(errors.New("skipping failed frame").
			WithTag("frame", f.Index).
			Wrap(err))
		return
	}

	occupied := 0
	for _, r := range f.Buffer.Records() {
		if s.marked(r.W()) {
			occupied++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	s.cells = f.Count
	s.occupied = occupied
	s.lastDims = [3]int{f.Dims.Width, f.Dims.Height, f.Dims.Depth}
	if f.Count > s.maxCells {
		s.maxCells = f.Count
	}

	logs.WithTag("frame", f.Index).
		WithTag("cells", f.Count).
		WithTag("occupied", occupied).
		Debug("frame voxelized")
}

func (s *frameStats) marked(w float32) bool {
	if s.predicate == voxelize.Distance {
		return w <= 0
	}
	return w != 0
}

func (s *frameStats) summary(backend string) statsSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := statsSummary{
		Backend:   backend,
		Predicate: s.predicate.String(),
		Frames:    s.frames,
		Failed:    s.failed,
		LastCells: s.cells,
		MaxCells:  s.maxCells,
		LastDims:  s.lastDims,
		Occupied:  s.occupied,
	}
	if s.cells > 0 {
		sum.Fill = float64(s.occupied) / float64(s.cells)
	}
	return sum
}
