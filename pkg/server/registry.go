package server

import (
	"strconv"
	"sync"
)

// maxRandomSuffixAttempts bounds the random phase of collision resolution.
// After that the smallest free numeric suffix is used, which always exists.
const maxRandomSuffixAttempts = 16

// registry is the authoritative set of live, named sessions, kept in
// registration order. Every access goes through its lock; the session
// manager is the only user and never hands the collection out.
type registry struct {
	mu     sync.RWMutex
	order  []*Session
	byName map[string]*Session
}

func newRegistry() *registry {
	return &registry{
		byName: make(map[string]*Session),
	}
}

// register picks a unique name derived from requested and inserts sess
// under it, as one atomic step. suffix must return values in 1..999.
func (r *registry) register(sess *Session, requested string, suffix func() int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := requested
	for i := 0; r.taken(name) && i < maxRandomSuffixAttempts; i++ {
		name = requested + strconv.Itoa(suffix())
	}
	for n := 1; r.taken(name); n++ {
		name = requested + strconv.Itoa(n)
	}

	sess.Name = name
	r.order = append(r.order, sess)
	r.byName[name] = sess
	return name
}

func (r *registry) taken(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// remove deletes sess. Only the first call for a given session returns true.
func (r *registry) remove(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byName[sess.Name] != sess {
		return false
	}
	delete(r.byName, sess.Name)
	for i, s := range r.order {
		if s == sess {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// drain empties the registry and returns what it held
func (r *registry) drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.order
	r.order = nil
	r.byName = make(map[string]*Session)
	return sessions
}

// nameOf returns the name sess is registered under, if it still is
func (r *registry) nameOf(sess *Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sess.Name == "" || r.byName[sess.Name] != sess {
		return "", false
	}
	return sess.Name, true
}

func (r *registry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.taken(name)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.namesLocked()
}

func (r *registry) namesLocked() []string {
	names := make([]string, len(r.order))
	for i, s := range r.order {
		names[i] = s.Name
	}
	return names
}

// snapshot copies the registered sessions in registration order.
// Callers write to the copy after the lock is released.
func (r *registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, len(r.order))
	copy(sessions, r.order)
	return sessions
}

func (r *registry) lookup(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.byName[name]
	return sess, ok
}
