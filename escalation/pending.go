package escalation

import (
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-store-claimer/notify"
)

var errTokenInUse = errors.New("token in use")

// PendingEscalation describes one outstanding wait for a human.
type PendingEscalation struct {
	Token          string
	AccountID      string
	Reason         notify.Reason
	Target         string
	ResolveOnVisit bool
	CreatedAt      time.Time
	Deadline       time.Time
}

type slot struct {
	info     PendingEscalation
	resolved chan Payload
}

// registry is the pending set shared by waiting workers and the callback server.
// Take removes a slot under the lock, so each slot is handed out at most once.
type registry struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

func newRegistry() *registry {
	return &registry{slots: make(map[string]*slot)}
}

func (r *registry) insert(info PendingEscalation) (*slot, error) {
	if info.Token == "" {
		return nil, errors.New("token cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[info.Token]; exists {
		return nil, errTokenInUse
	}
	s := &slot{info: info, resolved: make(chan Payload, 1)}
	r.slots[info.Token] = s
	return s, nil
}

func (r *registry) get(token string) (PendingEscalation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[token]
	if !ok {
		return PendingEscalation{}, false
	}
	return s.info, true
}

// take removes and returns the slot for token.
func (r *registry) take(token string) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[token]
	if ok {
		delete(r.slots, token)
	}
	return s, ok
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}
