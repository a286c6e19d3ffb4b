package session

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
)

// NoPort is returned by Port when an identity has no session.
const NoPort = -1

var (
	ErrNotRegistered      = errors.New("user is not registered")
	ErrAlreadyLoggedIn    = errors.New("user is already logged in")
	ErrNotLoggedIn        = errors.New("user is not logged in")
	ErrCurrentlyStreaming = errors.New("a song is currently streaming on this session, wait for it to end and try again")
)

// UserChecker answers whether a name/secret pair belongs to a registered user.
type UserChecker interface {
	UserExists(ctx context.Context, id Identity) (bool, error)
}

// Registry maps logged-in identities to streaming ports and tracks which
// ports have an active stream. A single mutex guards all of its state, so it
// is safe to share between the reactor and streaming workers.
//
// Ports are handed out lowest-free-first starting at the base port; when no
// freed port is available the next port above the highest one ever handed
// out is minted.
type Registry struct {
	users UserChecker

	mu        sync.Mutex
	free      portHeap
	next      int
	byName    map[string]int
	byPort    map[int]Identity
	streaming map[int]struct{}
	// draining holds ports whose session ended while a stream was still
	// bound to them. They rejoin the free pool once the stream is freed.
	draining map[int]struct{}
}

// NewRegistry creates a Registry whose first allocated port is basePort.
//
// Parameters:
//   - basePort: The lowest streaming port
//   - users: Source of truth for registered identities
//
// Returns:
//   - A new, empty Registry
func NewRegistry(basePort int, users UserChecker) *Registry {
	return &Registry{
		users:     users,
		next:      basePort,
		byName:    make(map[string]int),
		byPort:    make(map[int]Identity),
		streaming: make(map[int]struct{}),
		draining:  make(map[int]struct{}),
	}
}

// LogIn starts a session for id and assigns it the lowest free port.
//
// Returns:
//   - ErrNotRegistered if the catalog does not know id's name and secret
//   - ErrAlreadyLoggedIn if id already has a session
func (r *Registry) LogIn(ctx context.Context, id Identity) error {
	if err := r.checkRegistered(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[id.Key()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyLoggedIn, id.Name)
	}

	port := r.allocateLocked()
	r.byName[id.Key()] = port
	r.byPort[port] = id
	return nil
}

// LogOut ends id's session and returns its port to the pool. A port that
// is still streaming is held back until Free is called for it.
//
// Returns:
//   - The port the session held
//   - ErrNotRegistered or ErrNotLoggedIn under the mirrored conditions of LogIn
func (r *Registry) LogOut(ctx context.Context, id Identity) (int, error) {
	if err := r.checkRegistered(ctx, id); err != nil {
		return NoPort, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	port, ok := r.byName[id.Key()]
	if !ok {
		return NoPort, fmt.Errorf("%w: %s", ErrNotLoggedIn, id.Name)
	}

	delete(r.byName, id.Key())
	delete(r.byPort, port)

	if _, streaming := r.streaming[port]; streaming {
		r.draining[port] = struct{}{}
	} else {
		heap.Push(&r.free, port)
	}

	return port, nil
}

// Port returns the streaming port assigned to id.
//
// Returns:
//   - The port, or NoPort and false if id is not logged in
func (r *Registry) Port(id Identity) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	port, ok := r.byName[id.Key()]
	if !ok {
		return NoPort, false
	}

	return port, true
}

// IsLoggedIn reports whether id has a session.
func (r *Registry) IsLoggedIn(id Identity) bool {
	_, ok := r.Port(id)
	return ok
}

// Owner returns the identity holding port.
func (r *Registry) Owner(port int) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPort[port]
	return id, ok
}

// Reserve marks port as streaming in one critical section with the check
// that it is not already streaming. This is the only way a play request
// should claim a port.
//
// Returns:
//   - ErrNotLoggedIn if port is not assigned to a session
//   - ErrCurrentlyStreaming if a stream already holds port
func (r *Registry) Reserve(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPort[port]; !ok {
		return fmt.Errorf("%w: port %d has no session", ErrNotLoggedIn, port)
	}

	if _, ok := r.streaming[port]; ok {
		return ErrCurrentlyStreaming
	}

	r.streaming[port] = struct{}{}
	return nil
}

// Lock marks an assigned port as streaming. Unassigned ports are ignored.
func (r *Registry) Lock(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPort[port]; ok {
		r.streaming[port] = struct{}{}
	}
}

// IsLocked returns ErrCurrentlyStreaming if port is marked as streaming.
func (r *Registry) IsLocked(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streaming[port]; ok {
		return ErrCurrentlyStreaming
	}

	return nil
}

// Free clears the streaming mark on port. It is idempotent. A port whose
// session already ended goes back to the free pool here.
func (r *Registry) Free(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.streaming, port)

	if _, ok := r.draining[port]; ok {
		delete(r.draining, port)
		heap.Push(&r.free, port)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Streaming returns the number of ports marked as streaming.
func (r *Registry) Streaming() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streaming)
}

func (r *Registry) checkRegistered(ctx context.Context, id Identity) error {
	ok, err := r.users.UserExists(ctx, id)
	if err != nil {
		return fmt.Errorf("checking registration of %s: %w", id.Name, err)
	}

	if !ok {
		return fmt.Errorf("%w: no user %s with the given password", ErrNotRegistered, id.Name)
	}

	return nil
}

// allocateLocked pops the lowest free port or mints a new one; caller must hold r.mu.
func (r *Registry) allocateLocked() int {
	if r.free.Len() > 0 {
		return heap.Pop(&r.free).(int)
	}

	port := r.next
	r.next++
	return port
}

// portHeap is a min-heap of free ports.
type portHeap []int

func (h portHeap) Len() int           { return len(h) }
func (h portHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h portHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *portHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *portHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
