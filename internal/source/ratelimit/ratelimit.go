package ratelimit

import (
    "context"
    "time"

    "golang.org/x/time/rate"

    "pricefeed/internal/source"
)

// Limited wraps a source and gates every fetch through a shared token bucket.
// Concurrent calls wait for a token or return early when the context is canceled.
type Limited struct {
    S source.Source
    L *rate.Limiter
}

func (l *Limited) Name() string { return l.S.Name() }

func (l *Limited) FetchQuote(ctx context.Context, id string) (source.Quote, error) {
    if l.L != nil {
        if err := l.L.Wait(ctx); err != nil { return source.Quote{}, err }
    }
    return l.S.FetchQuote(ctx, id)
}

// LimitedBatch forwards batch fetches through the same bucket. A batch counts
// as one upstream request regardless of how many ids it carries.
type LimitedBatch struct {
    Limited
    B source.BatchSource
}

func (l *LimitedBatch) FetchQuotes(ctx context.Context, ids []string) (map[string]source.Quote, error) {
    if l.L != nil {
        if err := l.L.Wait(ctx); err != nil { return nil, err }
    }
    return l.B.FetchQuotes(ctx, ids)
}

// PerMinute builds a limiter from a requests-per-minute budget.
// rpm <= 0 means no limit.
func PerMinute(rpm, burst int) *rate.Limiter {
    if rpm <= 0 { return nil }
    if burst <= 0 { burst = 1 }
    return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
}

// Wrap gates s with an rpm budget, preserving batch capability when the
// underlying source has it.
func Wrap(s source.Source, rpm, burst int) source.Source {
    lim := PerMinute(rpm, burst)
    if lim == nil { return s }
    if b, ok := s.(source.BatchSource); ok {
        return &LimitedBatch{Limited: Limited{S: s, L: lim}, B: b}
    }
    return &Limited{S: s, L: lim}
}
