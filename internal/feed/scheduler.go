package feed

import (
    "context"
    "maps"
    "sync"
    "time"

    "github.com/sirupsen/logrus"

    "pricefeed/internal/metrics"
    "pricefeed/internal/source"
)

// Resolver resolves canonical ids against the configured source order.
// *chain.Chain is the production implementation; the indirection keeps the
// polling loop testable without HTTP.
type Resolver interface {
    Resolve(ctx context.Context, id string) (source.Quote, error)
    ResolveAll(ctx context.Context, ids []string) (map[string]source.Quote, error)
}

// scheduler polls one key's id set on a dedicated goroutine: fetch
// immediately, publish on any success, back off on total failure, exit on
// cancel.
type scheduler struct {
    key      Key
    resolver Resolver
    hub      *Hub
    maxDelay time.Duration
    log      logrus.FieldLogger
    metrics  *metrics.Metrics

    cancel context.CancelFunc
    done   chan struct{}
    once   sync.Once
}

// newScheduler starts the polling goroutine. maxDelay is raised to the
// key's interval when the interval is the larger of the two, keeping the
// backoff window well formed.
func newScheduler(key Key, resolver Resolver, hub *Hub, maxDelay time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *scheduler {
    if log == nil { log = logrus.StandardLogger() }
    if maxDelay < key.Interval() { maxDelay = key.Interval() }
    ctx, cancel := context.WithCancel(context.Background())
    s := &scheduler{
        key:      key,
        resolver: resolver,
        hub:      hub,
        maxDelay: maxDelay,
        log:      log,
        metrics:  m,
        cancel:   cancel,
        done:     make(chan struct{}),
    }
    go s.run(ctx)
    return s
}

// stop cancels the loop and blocks until its goroutine has exited, so no
// publish can follow its return. Idempotent.
func (s *scheduler) stop() {
    s.once.Do(s.cancel)
    <-s.done
}

func (s *scheduler) run(ctx context.Context) {
    defer close(s.done)
    s.metrics.SchedulerStarted()
    defer s.metrics.SchedulerStopped()
    s.log.Infof("feed %s: scheduler started", s.key)
    defer s.log.Infof("feed %s: scheduler stopped", s.key)

    last := make(Update, len(s.key.ids))
    delay := s.key.Interval()
    failures := 0

    // A zero timer makes the first fetch immediate, so a fresh subscriber
    // is not left waiting a full interval for its first update.
    timer := time.NewTimer(0)
    defer timer.Stop()

    for {
        select {
        case <-ctx.Done():
            return
        case <-timer.C:
        }

        quotes, err := s.resolver.ResolveAll(ctx, s.key.IDs())
        if ctx.Err() != nil {
            // Cancelled while the fetch was in flight; whatever came back
            // has no audience anymore.
            return
        }
        if err != nil {
            failures++
            s.metrics.Tick(metrics.OutcomeFailure)
            s.log.WithError(err).Warnf("feed %s: attempt %d failed, retrying in %s", s.key, failures, delay)
            timer.Reset(delay)
            delay = nextDelay(delay, s.maxDelay)
            continue
        }

        // Partial results count as success. Fresh values overwrite, ids
        // fetched on earlier ticks persist, so every update carries the
        // complete view of the key's set.
        for id, q := range quotes {
            last[id] = q.Value
            s.metrics.Quote(q.Source)
        }
        s.hub.Publish(s.key.String(), maps.Clone(last))
        s.metrics.Tick(metrics.OutcomeSuccess)
        s.metrics.Publish()
        failures = 0
        delay = s.key.Interval()
        timer.Reset(delay)
    }
}

// nextDelay doubles cur, capped at max. With the default 5s interval and
// 60s cap the waits between consecutive failed attempts run
// 5, 10, 20, 40, 60, 60, ...
func nextDelay(cur, max time.Duration) time.Duration {
    next := cur * 2
    if next > max { return max }
    return next
}
