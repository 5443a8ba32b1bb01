package supervisor

import "context"

// Op tracks a start running in the background.
type Op struct {
	done chan struct{}
	err  error
}

func newOp() *Op { return &Op{done: make(chan struct{})} }

// Finished returns an operation that is already done with err.
func Finished(err error) *Op {
	o := newOp()
	o.finish(err)
	return o
}

func (o *Op) finish(err error) {
	o.err = err
	close(o.done)
}

// Done is closed once the service has left the starting state.
func (o *Op) Done() <-chan struct{} { return o.done }

// Err returns the outcome. It is nil until Done is closed.
func (o *Op) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (o *Op) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
