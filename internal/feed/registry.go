package feed

import (
    "errors"
    "sync"
    "time"

    "github.com/sirupsen/logrus"

    "pricefeed/internal/metrics"
)

// ErrClosed is returned for subscriptions attempted after shutdown.
var ErrClosed = errors.New("feed: closed")

// Registry deduplicates schedulers by key. The first Acquire for a key
// starts its scheduler; the last Release stops it.
type Registry struct {
    resolver Resolver
    hub      *Hub
    maxDelay time.Duration
    log      logrus.FieldLogger
    metrics  *metrics.Metrics

    mu      sync.Mutex
    entries map[string]*registration
    closed  bool
}

type registration struct {
    sched *scheduler
    refs  int
}

func NewRegistry(resolver Resolver, hub *Hub, maxDelay time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *Registry {
    if log == nil { log = logrus.StandardLogger() }
    return &Registry{
        resolver: resolver,
        hub:      hub,
        maxDelay: maxDelay,
        log:      log,
        metrics:  m,
        entries:  make(map[string]*registration),
    }
}

// Acquire takes a reference on key's scheduler, starting one if the key is
// new. Concurrent acquires for the same key observe exactly one scheduler.
func (r *Registry) Acquire(key Key) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if r.closed {
        return ErrClosed
    }
    k := key.String()
    if reg, ok := r.entries[k]; ok {
        reg.refs++
        return nil
    }
    r.entries[k] = &registration{
        sched: newScheduler(key, r.resolver, r.hub, r.maxDelay, r.log, r.metrics),
        refs:  1,
    }
    return nil
}

// Release drops one reference. At zero the entry is removed and the
// scheduler cancelled under the lock; the blocking wait for its goroutine
// happens outside, so a slow in-flight fetch cannot stall other keys.
func (r *Registry) Release(key Key) {
    k := key.String()
    r.mu.Lock()
    reg, ok := r.entries[k]
    if !ok {
        r.mu.Unlock()
        return
    }
    reg.refs--
    if reg.refs > 0 {
        r.mu.Unlock()
        return
    }
    delete(r.entries, k)
    reg.sched.cancel()
    r.mu.Unlock()

    reg.sched.stop()
}

// Count reports how many schedulers are live.
func (r *Registry) Count() int {
    r.mu.Lock()
    defer r.mu.Unlock()
    return len(r.entries)
}

// Close stops every scheduler and rejects further acquires. Idempotent.
func (r *Registry) Close() {
    r.mu.Lock()
    if r.closed {
        r.mu.Unlock()
        return
    }
    r.closed = true
    stopping := r.entries
    r.entries = make(map[string]*registration)
    for _, reg := range stopping {
        reg.sched.cancel()
    }
    r.mu.Unlock()

    for _, reg := range stopping {
        reg.sched.stop()
    }
}
