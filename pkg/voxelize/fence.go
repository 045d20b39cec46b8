package voxelize

// Fence signals that a dispatch has finished. Reads of the output buffer are
// only valid once the fence is done and Err is nil.
type Fence struct {
	done chan struct{}
	err  error
}

// NewFence returns an unsignaled fence. Dispatchers hand it out when a
// dispatch is issued and call Signal once the last cell is written.
func NewFence() *Fence {
	return &Fence{done: make(chan struct{})}
}

var completed = func() *Fence {
	f := NewFence()
	f.Signal()
	return f
}()

// CompletedFence returns a fence that is already signaled.
func CompletedFence() *Fence {
	return completed
}

// Signal marks the fence done. Signal or Fail must be called exactly once.
func (f *Fence) Signal() {
	close(f.done)
}

// Fail marks the fence done with an error: the dispatch ended without
// writing valid records.
func (f *Fence) Fail(err error) {
	f.err = err
	close(f.done)
}

// Err returns the error the fence failed with. It is nil while the dispatch
// is still running.
func (f *Fence) Err() error {
	if f == nil || !f.Signaled() {
		return nil
	}
	return f.err
}

// Done returns a channel closed when the dispatch completes.
func (f *Fence) Done() <-chan struct{} {
	if f == nil {
		return completed.done
	}
	return f.done
}

// Wait blocks until the dispatch completes and returns its error. A nil
// fence is done.
func (f *Fence) Wait() error {
	<-f.Done()
	if f == nil {
		return nil
	}
	return f.err
}

// Signaled reports whether the dispatch has completed without blocking.
func (f *Fence) Signaled() bool {
	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}
