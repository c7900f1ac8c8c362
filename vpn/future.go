package vpn

import (
	"context"
	"sync"
)

// Future is the handle returned by an asynchronous registration.
// It completes exactly once with the object path NetworkManager assigned to
// the connection, or with the error the registrar reported.
type Future struct {
	uuid string
	done chan struct{}
	once sync.Once
	path string
	err  error
}

// NewFuture returns a pending future for the connection with the given UUID.
func NewFuture(uuid string) *Future {
	return &Future{
		uuid: uuid,
		done: make(chan struct{}),
	}
}

// Resolve completes the future. Calls after the first are ignored.
func (f *Future) Resolve(path string, err error) {
	f.once.Do(func() {
		f.path = path
		f.err = err
		close(f.done)
	})
}

// UUID returns the unique identifier of the connection being registered.
func (f *Future) UUID() string {
	return f.uuid
}

// Done is closed when the registration finishes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the registration finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.path, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
