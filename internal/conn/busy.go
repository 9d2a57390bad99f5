package conn

import (
	"context"
	"sync"
)

// busyFlag marks a connection as serving a request. It is shared by the request path
// and the background body drain and is only touched through acquire and release.
type busyFlag struct {
	mu   sync.Mutex
	busy bool
	idle chan struct{} // closed on release
}

// acquire waits until the flag is clear, then sets it.
func (f *busyFlag) acquire(ctx context.Context) error {
	for {
		f.mu.Lock()
		if !f.busy {
			f.busy = true
			f.idle = make(chan struct{})
			f.mu.Unlock()
			return nil
		}
		idle := f.idle
		f.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *busyFlag) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.busy {
		return
	}
	f.busy = false
	close(f.idle)
}

func (f *busyFlag) isBusy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}
