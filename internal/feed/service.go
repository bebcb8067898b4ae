package feed

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/sirupsen/logrus"
    "golang.org/x/sync/singleflight"

    "pricefeed/internal/metrics"
    "pricefeed/internal/source"
    "pricefeed/internal/symbol"
)

// Defaults applied by New for zero Config fields.
const (
    DefaultInterval = 5 * time.Second
    DefaultMaxDelay = 60 * time.Second
)

// Config wires a Service. Resolver is the only required field.
type Config struct {
    Resolver Resolver
    Table    *symbol.Table      // nil: builtin table
    Interval time.Duration      // default poll interval; 0: DefaultInterval
    MaxDelay time.Duration      // backoff cap; 0: DefaultMaxDelay
    Buffer   int                // per-listener channel buffer; 0: 8
    Logger   logrus.FieldLogger // nil: logrus standard logger
    Metrics  *metrics.Metrics   // nil: metrics disabled
}

// Service is the consumer-facing surface of the feed: subscriptions that
// share schedulers per key, and one-shot fetches that bypass scheduling.
type Service struct {
    resolver Resolver
    table    *symbol.Table
    interval time.Duration
    hub      *Hub
    registry *Registry
    log      logrus.FieldLogger

    // coalesce concurrent one-shot fetches per id
    sf singleflight.Group
}

func New(cfg Config) *Service {
    if cfg.Table == nil { cfg.Table = symbol.Default() }
    if cfg.Interval <= 0 { cfg.Interval = DefaultInterval }
    if cfg.MaxDelay <= 0 { cfg.MaxDelay = DefaultMaxDelay }
    if cfg.Logger == nil { cfg.Logger = logrus.StandardLogger() }
    hub := NewHub(cfg.Buffer, cfg.Metrics)
    return &Service{
        resolver: cfg.Resolver,
        table:    cfg.Table,
        interval: cfg.Interval,
        hub:      hub,
        registry: NewRegistry(cfg.Resolver, hub, cfg.MaxDelay, cfg.Logger, cfg.Metrics),
        log:      cfg.Logger,
    }
}

// Subscription is one consumer's handle on a feed key.
type Subscription struct {
    key      Key
    listener *Listener
    svc      *Service
    once     sync.Once
}

// Key reports the key this subscription resolved to.
func (s *Subscription) Key() Key { return s.key }

// Updates streams complete value maps for the key's id set. The channel is
// closed when the subscription or the service is closed.
func (s *Subscription) Updates() <-chan Update { return s.listener.Updates() }

// Close detaches the subscription and releases its scheduler reference.
// Idempotent.
func (s *Subscription) Close() {
    s.once.Do(func() {
        s.svc.hub.Unsubscribe(s.listener)
        s.svc.registry.Release(s.key)
        s.svc.log.Debugf("feed %s: subscriber %s detached", s.key, s.listener.ID)
    })
}

// Subscribe normalizes symbols into a key and attaches a listener to it.
// The listener registers before the scheduler reference is taken, so the
// immediate first fetch of a brand-new key is always observed. every <= 0
// selects the service default interval.
func (s *Service) Subscribe(symbols []string, every time.Duration) (*Subscription, error) {
    if every <= 0 { every = s.interval }
    ids := s.table.NormalizeAll(symbols)
    if len(ids) == 0 {
        return nil, fmt.Errorf("subscribe %v: no usable symbols: %w", symbols, source.ErrInvalidRequest)
    }
    key := NewKey(ids, every)

    l := s.hub.Subscribe(key.String())
    if err := s.registry.Acquire(key); err != nil {
        s.hub.Unsubscribe(l)
        return nil, err
    }
    s.log.Debugf("feed %s: subscriber %s attached", key, l.ID)
    return &Subscription{key: key, listener: l, svc: s}, nil
}

// Unsubscribe detaches sub. Equivalent to sub.Close; nil-safe.
func (s *Service) Unsubscribe(sub *Subscription) {
    if sub == nil { return }
    sub.Close()
}

// FetchOnce resolves one symbol right now, without touching any scheduler.
// Concurrent calls that normalize to the same id share a single upstream
// resolution.
func (s *Service) FetchOnce(ctx context.Context, sym string) (source.Quote, error) {
    id := s.table.Normalize(sym)
    if id == "" {
        return source.Quote{}, fmt.Errorf("fetch %q: no usable symbol: %w", sym, source.ErrInvalidRequest)
    }
    v, err, _ := s.sf.Do(id, func() (any, error) {
        return s.resolver.Resolve(ctx, id)
    })
    if err != nil {
        return source.Quote{}, err
    }
    return v.(source.Quote), nil
}

// FetchAll resolves a whole symbol set right now. Partial results are
// success, mirroring the chain's batch semantics.
func (s *Service) FetchAll(ctx context.Context, symbols []string) (map[string]source.Quote, error) {
    ids := s.table.NormalizeAll(symbols)
    if len(ids) == 0 {
        return nil, fmt.Errorf("fetch %v: no usable symbols: %w", symbols, source.ErrInvalidRequest)
    }
    return s.resolver.ResolveAll(ctx, ids)
}

// Close stops every scheduler and closes every listener channel. Further
// Subscribe calls fail with ErrClosed. Idempotent.
func (s *Service) Close() {
    s.registry.Close()
    s.hub.Close()
}
