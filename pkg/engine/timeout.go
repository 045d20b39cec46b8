package engine

import (
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/chazu/voxgrid/pkg/kernel"
)

// EvalTimeout is the hard limit for a single evaluation.
const EvalTimeout = 5 * time.Second

// Error types returned by Evaluate for fatal failures.
const (
	ErrTypeTimeout    = "engine_timeout"
	ErrTypeSuperseded = "engine_superseded"
	ErrTypePanic      = "engine_panic"
)

// evalResult passes evaluation results through channels.
type evalResult struct {
	solid  kernel.Solid
	errors []EvalError
	err    error
}

func errPanic(r any) error {
	return errors.New("panic during evaluation").
		WithType(ErrTypePanic).
		WithTag("panic", r)
}

// waitWithTimeout waits for a result from ch, but returns a timeout error
// if the evaluation exceeds EvalTimeout. It uses a generation counter to
// discard stale results from previous evaluations.
//
// On timeout, the goroutine may still be running; the generation check
// ensures its result is discarded when it eventually completes.
func waitWithTimeout(
	ch <-chan evalResult,
	gen uint64,
	mu *sync.Mutex,
	currentGen *uint64,
) (kernel.Solid, []EvalError, error) {
	timer := time.NewTimer(EvalTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		mu.Lock()
		current := *currentGen
		mu.Unlock()

		if gen != current {
			return nil, nil, errors.New("evaluation superseded by newer request").
				WithType(ErrTypeSuperseded).
				WithTag("generation", gen)
		}

		return res.solid, res.errors, res.err

	case <-timer.C:
		return nil, nil, errors.New("evaluation timed out").
			WithType(ErrTypeTimeout).
			WithTag("timeout", EvalTimeout.String())
	}
}
