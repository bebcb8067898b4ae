package feed

import (
    "sync"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "pricefeed/internal/metrics"
)

// Update is one published view of a key's id set: canonical id to value.
// Every update carries the complete set fetched so far, not a delta.
type Update map[string]decimal.Decimal

// Listener is one hub registration. The update channel is owned and closed
// by the hub; receivers must never close it.
type Listener struct {
    ID  uuid.UUID
    key string
    ch  chan Update
}

// Updates is the receive side of the listener's channel. It is closed when
// the listener is unsubscribed or the hub shuts down.
func (l *Listener) Updates() <-chan Update { return l.ch }

const defaultBuffer = 8

// Hub multicasts updates to listeners grouped by subscription key. Push
// only, no replay: a listener sees updates published after it registered.
type Hub struct {
    mu        sync.RWMutex
    listeners map[string]map[uuid.UUID]*Listener
    buffer    int
    closed    bool
    metrics   *metrics.Metrics
}

func NewHub(buffer int, m *metrics.Metrics) *Hub {
    if buffer <= 0 { buffer = defaultBuffer }
    return &Hub{
        listeners: make(map[string]map[uuid.UUID]*Listener),
        buffer:    buffer,
        metrics:   m,
    }
}

// Subscribe registers a new listener for key. On a closed hub the returned
// listener's channel is already closed.
func (h *Hub) Subscribe(key string) *Listener {
    l := &Listener{ID: uuid.New(), key: key, ch: make(chan Update, h.buffer)}
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed {
        close(l.ch)
        return l
    }
    group, ok := h.listeners[key]
    if !ok {
        group = make(map[uuid.UUID]*Listener)
        h.listeners[key] = group
    }
    group[l.ID] = l
    h.metrics.ListenerAdded()
    return l
}

// Unsubscribe removes l and closes its channel. Calling it a second time
// finds nothing to remove and is a no-op.
func (h *Hub) Unsubscribe(l *Listener) {
    if l == nil { return }
    h.mu.Lock()
    defer h.mu.Unlock()
    group, ok := h.listeners[l.key]
    if !ok { return }
    if _, ok := group[l.ID]; !ok { return }
    delete(group, l.ID)
    if len(group) == 0 { delete(h.listeners, l.key) }
    close(l.ch)
    h.metrics.ListenerRemoved()
}

// Publish delivers u to every listener registered for key. Sends never
// block: when a listener's buffer is full its oldest update is dropped in
// favor of the new one, so a stalled consumer keeps the freshest values
// and what it does see stays in publish order. Channels are closed only
// under the write lock, so sending under the read lock cannot race a
// close.
func (h *Hub) Publish(key string, u Update) {
    h.mu.RLock()
    defer h.mu.RUnlock()
    if h.closed { return }
    for _, l := range h.listeners[key] {
        select {
        case l.ch <- u:
            continue
        default:
        }
        select {
        case <-l.ch:
        default:
        }
        select {
        case l.ch <- u:
        default:
        }
    }
}

// Listeners reports how many listeners key currently has.
func (h *Hub) Listeners(key string) int {
    h.mu.RLock()
    defer h.mu.RUnlock()
    return len(h.listeners[key])
}

// Close closes every listener channel and rejects further registrations.
// Idempotent.
func (h *Hub) Close() {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed { return }
    h.closed = true
    for _, group := range h.listeners {
        for _, l := range group {
            close(l.ch)
            h.metrics.ListenerRemoved()
        }
    }
    h.listeners = make(map[string]map[uuid.UUID]*Listener)
}
