package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"coachwire/internal/pipeline"
	"coachwire/internal/protocol"
	"coachwire/internal/session"
	"coachwire/pkg/interfaces"
)

// Subscriber is one attached connection's receive side. Send must not block
// indefinitely; connections enqueue onto a bounded write channel.
type Subscriber interface {
	Send(ev protocol.Outbound) error
	UserID() string
}

type entry struct {
	machine   *session.Machine
	subs      map[Subscriber]struct{}
	idleTimer *time.Timer
	// idleGen invalidates fired timer callbacks: attachment and re-arming
	// both bump it, and a callback whose generation no longer matches is a
	// no-op even when it already passed Stop.
	idleGen uint64
}

// Registry is the process-wide table of live sessions. Register is the only
// path that constructs a state machine, which keeps "one machine per
// session ID" a property of the map rather than of caller discipline.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	pipeline   *pipeline.Pipeline
	store      interfaces.SessionStore
	idleExpiry time.Duration
	log        *logrus.Entry
}

func New(pl *pipeline.Pipeline, store interfaces.SessionStore, idleExpiry time.Duration) *Registry {
	return &Registry{
		entries:    make(map[string]*entry),
		pipeline:   pl,
		store:      store,
		idleExpiry: idleExpiry,
		log:        logrus.WithField("component", "registry"),
	}
}

// Register attaches a subscriber to a session, constructing the machine on
// first attachment. The shared machine instance is returned either way.
func (r *Registry) Register(ctx context.Context, sessionID string, sub Subscriber) (*session.Machine, error) {
	if sub == nil {
		return nil, ErrNilSubscriber
	}

	// Fast path: entry already live.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := r.entries[sessionID]; ok {
		r.attachLocked(sessionID, e, sub)
		r.mu.Unlock()
		return e.machine, nil
	}
	r.mu.Unlock()

	// Build a candidate machine outside the lock; store reads can be slow.
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	machine := session.NewMachine(sess, r.pipeline, r.store, func(ev protocol.Outbound) {
		r.Broadcast(sessionID, ev)
	})
	if err := machine.LoadTurnLog(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	// A concurrent Register may have won; the losing candidate is discarded
	// before it can have side effects.
	if e, ok := r.entries[sessionID]; ok {
		r.attachLocked(sessionID, e, sub)
		return e.machine, nil
	}

	e := &entry{
		machine: machine,
		subs:    map[Subscriber]struct{}{sub: {}},
	}
	r.entries[sessionID] = e
	r.log.WithFields(logrus.Fields{
		"session": sessionID,
		"user":    sub.UserID(),
	}).Info("session entry created")
	return machine, nil
}

func (r *Registry) attachLocked(sessionID string, e *entry, sub Subscriber) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	e.idleGen++
	e.subs[sub] = struct{}{}
	r.log.WithFields(logrus.Fields{
		"session":     sessionID,
		"user":        sub.UserID(),
		"subscribers": len(e.subs),
	}).Info("subscriber attached")
}

// Deregister detaches a subscriber. A pending turn is unaffected. When the
// last subscriber of a live session leaves, the idle-expiry timer is armed;
// a terminal session's empty entry is dropped immediately.
func (r *Registry) Deregister(sessionID string, sub Subscriber) {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	// Machine state is read before taking the write lock: the machine emits
	// under its own lock into Broadcast, which takes this lock.
	state := e.machine.State()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok = r.entries[sessionID]
	if !ok {
		return
	}
	delete(e.subs, sub)
	if len(e.subs) > 0 {
		return
	}

	switch state {
	case session.StateCompleted, session.StateAborted:
		delete(r.entries, sessionID)
		r.log.WithField("session", sessionID).Info("session entry removed")
	default:
		e.idleGen++
		gen := e.idleGen
		e.idleTimer = time.AfterFunc(r.idleExpiry, func() { r.expire(sessionID, gen) })
		r.log.WithField("session", sessionID).Info("session idle, expiry timer armed")
	}
}

// expire aborts a session nobody reattached to within the idle window. The
// decision is committed under the write lock against the arming generation;
// the abort itself runs outside the lock, since it broadcasts and broadcast
// acquires the lock.
func (r *Registry) expire(sessionID string, gen uint64) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if !ok || e.idleGen != gen || len(e.subs) > 0 {
		r.mu.Unlock()
		return
	}
	e.idleGen++
	e.idleTimer = nil
	machine := e.machine
	r.mu.Unlock()

	if err := machine.Abort("idle timeout"); err != nil {
		r.log.WithError(err).WithField("session", sessionID).Debug("expiry abort skipped")
	}

	r.mu.Lock()
	if e, ok := r.entries[sessionID]; ok && len(e.subs) == 0 {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
	r.log.WithField("session", sessionID).Warn("session expired")
}

// Lookup returns the live machine for a session, if any.
func (r *Registry) Lookup(sessionID string) (*session.Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.machine, true
}

// Broadcast delivers an event to every subscriber of a session. Callers
// emitting under the machine lock get per-session ordering for free; a slow
// subscriber surfaces as a Send error and does not stop delivery to others.
func (r *Registry) Broadcast(sessionID string, ev protocol.Outbound) {
	r.mu.RLock()
	e, ok := r.entries[sessionID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(e.subs))
	for sub := range e.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Send(ev); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"session": sessionID,
				"user":    sub.UserID(),
			}).Warn("broadcast delivery failed")
		}
	}
}

// ConnectionCount reports attached subscribers for a session.
func (r *Registry) ConnectionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[sessionID]; ok {
		return len(e.subs)
	}
	return 0
}

// Stats reports registry size for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, e := range r.entries {
		total += len(e.subs)
	}
	return map[string]int{
		"live_sessions":     len(r.entries),
		"total_connections": total,
	}
}

// Close stops idle timers and rejects further registration. Live machines
// are left to finish; the process is shutting down anyway.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, e := range r.entries {
		if e.idleTimer != nil {
			e.idleTimer.Stop()
		}
	}
}
