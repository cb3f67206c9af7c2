// Package elevate models the reference-counted admin-rights handle
// InstallRuntime pushes/pops around privileged operations (spec.md §5's
// "gain/drop_admin_rights stack" plus a keepalive watchdog), without
// shipping the actual OS-level elevation mechanism: per spec.md §1,
// administrative-elevation IPC is an external collaborator.
package elevate

import (
	"context"
	"sync"
	"time"

	insterrors "github.com/installforge/core/internal/errors"
)

// Backend performs the actual privilege acquisition/drop and keepalive
// ping against whatever OS mechanism a deployment wires in (a helper
// process, a named pipe, polkit, sudo token refresh, ...). No concrete
// implementation ships in this repo.
type Backend interface {
	// Acquire obtains elevated rights, returning an opaque token the
	// backend can use later to release them.
	Acquire(ctx context.Context) (token string, err error)
	// Release drops elevated rights associated with token.
	Release(ctx context.Context, token string) error
	// Ping keeps token's elevation alive (e.g. refreshing a helper
	// process's lease); called periodically while the reference count
	// is above zero.
	Ping(ctx context.Context, token string) error
}

// Handle is a reference-counted admin-rights handle: nested operations
// that each need elevation call Acquire/Release in a stack discipline,
// and only the outermost Acquire/innermost Release actually talks to the
// Backend. A background goroutine pings the backend at keepaliveInterval
// while the count is above zero, stopping as soon as it drops back to
// zero.
type Handle struct {
	backend           Backend
	keepaliveInterval time.Duration

	mu       sync.Mutex
	count    int
	token    string
	stopPing chan struct{}
	pingDone chan struct{}
}

// New returns a Handle with no references held yet.
func New(backend Backend, keepaliveInterval time.Duration) *Handle {
	return &Handle{backend: backend, keepaliveInterval: keepaliveInterval}
}

// Acquire increments the reference count, actually elevating on the
// 0→1 transition. Safe to call from multiple goroutines.
func (h *Handle) Acquire(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count > 0 {
		h.count++
		return nil
	}

	token, err := h.backend.Acquire(ctx)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryOperation, insterrors.CodeOperationFatal, "acquire admin rights", err)
	}
	h.token = token
	h.count = 1
	h.startKeepalive()
	return nil
}

// Release decrements the reference count, actually dropping elevation on
// the 1→0 transition.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return insterrors.New(insterrors.CategoryOperation, insterrors.CodeOperationFatal, "release called with no admin rights held")
	}

	h.count--
	if h.count > 0 {
		return nil
	}

	h.stopKeepalive()
	token := h.token
	h.token = ""
	if err := h.backend.Release(ctx, token); err != nil {
		return insterrors.Wrap(insterrors.CategoryOperation, insterrors.CodeOperationFatal, "release admin rights", err)
	}
	return nil
}

// Count returns the current reference count, for diagnostics/tests.
func (h *Handle) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// startKeepalive must be called with h.mu held, on the 0->1 transition.
func (h *Handle) startKeepalive() {
	if h.keepaliveInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	h.stopPing = stop
	h.pingDone = done
	token := h.token

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = h.backend.Ping(context.Background(), token)
			}
		}
	}()
}

// stopKeepalive must be called with h.mu held, on the 1->0 transition.
func (h *Handle) stopKeepalive() {
	if h.stopPing == nil {
		return
	}
	close(h.stopPing)
	<-h.pingDone
	h.stopPing = nil
	h.pingDone = nil
}
