package cache

import (
    "context"
    "sync"
    "time"

    "github.com/marstr/collection/v2"

    "pricefeed/internal/source"
)

// entry stores one cached quote and when it was fetched.
type entry struct {
    q  source.Quote
    at time.Time
}

// Source caches quotes per coin id for a TTL and evicts least recently
// used entries beyond MaxItems. When the underlying source fails, an
// expired entry is served rather than failing entirely.
type Source struct {
    S        source.Source
    TTL      time.Duration
    MaxItems int

    once  sync.Once
    mu    sync.Mutex
    items *collection.LRUCache[string, entry]
}

func (c *Source) Name() string { return c.S.Name() }

func (c *Source) cache() *collection.LRUCache[string, entry] {
    c.once.Do(func() {
        n := c.MaxItems
        if n <= 0 { n = 512 }
        c.items = collection.NewLRUCache[string, entry](uint(n))
    })
    return c.items
}

// get also bumps recency, so it takes the write lock.
func (c *Source) get(id string) (entry, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.cache().Get(id)
}

func (c *Source) put(id string, e entry) {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.cache().Put(id, e)
}

func (c *Source) FetchQuote(ctx context.Context, id string) (source.Quote, error) {
    if c.TTL <= 0 {
        return c.S.FetchQuote(ctx, id)
    }
    now := time.Now()
    if e, ok := c.get(id); ok && now.Sub(e.at) < c.TTL {
        return e.q, nil
    }
    q, err := c.S.FetchQuote(ctx, id)
    if err != nil {
        if e, ok := c.get(id); ok {
            return e.q, nil
        }
        return source.Quote{}, err
    }
    c.put(id, entry{q: q, at: now})
    return q, nil
}

// BatchSource adds batch passthrough: cached ids are split off and only
// the missing ones reach the underlying source.
type BatchSource struct {
    Source
    B source.BatchSource
}

func (c *BatchSource) FetchQuotes(ctx context.Context, ids []string) (map[string]source.Quote, error) {
    if c.TTL <= 0 {
        return c.B.FetchQuotes(ctx, ids)
    }
    now := time.Now()
    out := make(map[string]source.Quote, len(ids))
    missing := make([]string, 0, len(ids))
    for _, id := range ids {
        if e, ok := c.get(id); ok && now.Sub(e.at) < c.TTL {
            out[id] = e.q
            continue
        }
        missing = append(missing, id)
    }
    if len(missing) == 0 {
        return out, nil
    }
    fresh, err := c.B.FetchQuotes(ctx, missing)
    if err != nil {
        for _, id := range missing {
            if e, ok := c.get(id); ok { out[id] = e.q }
        }
        if len(out) > 0 {
            return out, nil
        }
        return nil, err
    }
    for id, q := range fresh {
        out[id] = q
        c.put(id, entry{q: q, at: now})
    }
    return out, nil
}

// Wrap caches s with the given TTL and size cap, preserving batch
// capability when the underlying source has it.
func Wrap(s source.Source, ttl time.Duration, maxItems int) source.Source {
    if b, ok := s.(source.BatchSource); ok {
        return &BatchSource{Source: Source{S: s, TTL: ttl, MaxItems: maxItems}, B: b}
    }
    return &Source{S: s, TTL: ttl, MaxItems: maxItems}
}
