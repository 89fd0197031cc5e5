// Package binding holds the short-lived handshakes that link a chat user to
// a game account. An entry is created when the user asks to bind and is
// resolved exactly once: either the player confirms in game before the
// window closes, or it expires.
package binding

import (
	"errors"
	"sync"
	"time"
)

// Registry errors.
var (
	ErrConflict = errors.New("a binding request for this account is already pending")
	ErrNotFound = errors.New("no pending binding request for this account")
)

// DefaultWindow is how long a player has to confirm.
const DefaultWindow = 60 * time.Second

// Pending is an unresolved binding request.
type Pending struct {
	Account     string
	RequesterID int64
	// Ref identifies the chat conversation that started the request so the
	// outcome can be reported back there.
	Ref       string
	CreatedAt time.Time
}

type entry struct {
	Pending
	seq   uint64
	timer *time.Timer
}

// Registry tracks pending binding requests keyed by account name.
// One mutex guards every transition.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	seq      uint64
	window   time.Duration
	now      func() time.Time
	onExpire func(Pending)
	timers   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithWindow sets the confirmation window.
func WithWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithExpiryHandler is called, outside the lock, once for every entry that
// expires instead of being confirmed.
func WithExpiryHandler(fn func(Pending)) Option {
	return func(r *Registry) { r.onExpire = fn }
}

// WithoutTimers disables the per-entry timers; expiry then only happens
// lazily on access and through Sweep.
func WithoutTimers() Option {
	return func(r *Registry) { r.timers = false }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		window:  DefaultWindow,
		now:     time.Now,
		timers:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window returns the confirmation window.
func (r *Registry) Window() time.Duration {
	return r.window
}

func (r *Registry) stale(e *entry, now time.Time) bool {
	return now.Sub(e.CreatedAt) > r.window
}

// removeLocked deletes e and stops its timer. Callers hold r.mu.
func (r *Registry) removeLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.entries, e.Account)
}

func (r *Registry) notify(expired []Pending) {
	if r.onExpire == nil {
		return
	}
	for _, p := range expired {
		r.onExpire(p)
	}
}

// Create registers a pending request. It returns ErrConflict when a live
// request for the account already exists. A request that outlived the
// window is expired and replaced.
func (r *Registry) Create(requesterID int64, account, ref string) (Pending, error) {
	r.mu.Lock()
	now := r.now()

	var expired []Pending
	if e, ok := r.entries[account]; ok {
		if !r.stale(e, now) {
			r.mu.Unlock()
			return Pending{}, ErrConflict
		}
		r.removeLocked(e)
		expired = append(expired, e.Pending)
	}

	r.seq++
	e := &entry{
		Pending: Pending{Account: account, RequesterID: requesterID, Ref: ref, CreatedAt: now},
		seq:     r.seq,
	}
	if r.timers {
		seq := e.seq
		// Fire just past the window; at exactly the window the entry is
		// still valid.
		e.timer = time.AfterFunc(r.window+time.Millisecond, func() { r.expireSeq(account, seq) })
	}
	r.entries[account] = e
	p := e.Pending
	r.mu.Unlock()

	r.notify(expired)
	return p, nil
}

// Confirm resolves the request for account. A request older than the
// window counts as expired and yields ErrNotFound.
func (r *Registry) Confirm(account string) (Pending, error) {
	r.mu.Lock()
	e, ok := r.entries[account]
	if !ok {
		r.mu.Unlock()
		return Pending{}, ErrNotFound
	}

	r.removeLocked(e)
	if r.stale(e, r.now()) {
		r.mu.Unlock()
		r.notify([]Pending{e.Pending})
		return Pending{}, ErrNotFound
	}
	r.mu.Unlock()
	return e.Pending, nil
}

// Expire removes the request for account if it outlived the window. It
// reports whether this call removed it.
func (r *Registry) Expire(account string) (Pending, bool) {
	r.mu.Lock()
	e, ok := r.entries[account]
	if !ok || !r.stale(e, r.now()) {
		r.mu.Unlock()
		return Pending{}, false
	}
	r.removeLocked(e)
	r.mu.Unlock()

	r.notify([]Pending{e.Pending})
	return e.Pending, true
}

// Cancel withdraws p without notifying. It does nothing when the stored
// request for the account is not p.
func (r *Registry) Cancel(p Pending) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[p.Account]
	if !ok || e.Pending != p {
		return false
	}
	r.removeLocked(e)
	return true
}

// expireSeq is the timer callback. It only touches the entry it was
// scheduled for, never a later request for the same account.
func (r *Registry) expireSeq(account string, seq uint64) {
	r.mu.Lock()
	e, ok := r.entries[account]
	if !ok || e.seq != seq || !r.stale(e, r.now()) {
		r.mu.Unlock()
		return
	}
	r.removeLocked(e)
	r.mu.Unlock()

	r.notify([]Pending{e.Pending})
}

// Get returns the live request for account, if any.
func (r *Registry) Get(account string) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[account]
	if !ok || r.stale(e, r.now()) {
		return Pending{}, false
	}
	return e.Pending, true
}

// Sweep evicts every request that outlived the window and returns how
// many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.now()
	var expired []Pending
	for _, e := range r.entries {
		if r.stale(e, now) {
			r.removeLocked(e)
			expired = append(expired, e.Pending)
		}
	}
	r.mu.Unlock()

	r.notify(expired)
	return len(expired)
}

// Len returns the number of stored requests, live or not yet swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops all timers and drops every request without notifying.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		r.removeLocked(e)
	}
}
