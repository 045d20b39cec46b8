package grid

// GroupSize is the thread-group shape a kernel declares.
type GroupSize struct {
	X, Y, Z int
}

// Threads returns the number of invocations in one group.
func (g GroupSize) Threads() int {
	return g.X * g.Y * g.Z
}

// Valid reports whether every axis is at least one.
func (g GroupSize) Valid() bool {
	return g.X > 0 && g.Y > 0 && g.Z > 0
}

// Workgroups returns the number of groups to launch along each axis so that
// every cell of d is covered: ceil(dim/group) per axis. Groups at the far
// edge may extend past the grid; their extra invocations must not write.
func Workgroups(d Dimensions, g GroupSize) [3]int {
	return [3]int{
		warps(d.Width, g.X),
		warps(d.Height, g.Y),
		warps(d.Depth, g.Z),
	}
}

func warps(n, threads int) int {
	if n <= 0 || threads <= 0 {
		return 0
	}
	return (n + threads - 1) / threads
}
