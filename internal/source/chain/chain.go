package chain

import (
    "context"
    "errors"
    "fmt"
    "strings"

    "github.com/sirupsen/logrus"

    "pricefeed/internal/source"
)

// Chain tries an ordered list of sources until one succeeds. Order encodes
// a reliability/cost preference; this is a short-circuiting traversal, not
// a race. Individual source failures are absorbed (logged at debug) and
// only the aggregate failure is returned when every source fails.
type Chain struct {
    sources []source.Source
    log     logrus.FieldLogger
}

func New(log logrus.FieldLogger, sources ...source.Source) *Chain {
    if log == nil { log = logrus.StandardLogger() }
    return &Chain{sources: sources, log: log}
}

// Resolve fetches one quote for id, trying sources strictly in order and
// returning the first success. No retry happens at this level; retry over
// time is the scheduler's job.
func (c *Chain) Resolve(ctx context.Context, id string) (source.Quote, error) {
    if id == "" {
        return source.Quote{}, fmt.Errorf("resolve: empty id: %w", source.ErrInvalidRequest)
    }
    if len(c.sources) == 0 {
        return source.Quote{}, fmt.Errorf("resolve %s: no sources configured: %w", id, source.ErrInvalidRequest)
    }
    errs := make([]error, 0, len(c.sources))
    for _, s := range c.sources {
        q, err := s.FetchQuote(ctx, id)
        if err == nil {
            return q, nil
        }
        c.log.WithError(err).Debugf("source %s failed for %s, advancing", s.Name(), id)
        errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
        if ctx.Err() != nil {
            break
        }
    }
    return source.Quote{}, fmt.Errorf("resolve %s: %w", id, errors.Join(errs...))
}

// ResolveAll fetches quotes for a whole id set, walking the same source
// order. A source that handles batches is asked once for all still-missing
// ids; others are asked per id. Traversal stops as soon as nothing is
// missing. A partial result is success; the error is returned only when no
// id resolved anywhere.
func (c *Chain) ResolveAll(ctx context.Context, ids []string) (map[string]source.Quote, error) {
    if len(ids) == 0 {
        return nil, fmt.Errorf("resolve: empty id set: %w", source.ErrInvalidRequest)
    }
    out := make(map[string]source.Quote, len(ids))
    missing := make([]string, len(ids))
    copy(missing, ids)

    var errs []error
    for _, s := range c.sources {
        if len(missing) == 0 {
            break
        }
        if b, ok := s.(source.BatchSource); ok {
            quotes, err := b.FetchQuotes(ctx, missing)
            if err != nil {
                c.log.WithError(err).Debugf("batch source %s failed for %s, advancing", s.Name(), strings.Join(missing, ","))
                errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
            } else {
                for id, q := range quotes {
                    out[id] = q
                }
            }
        } else {
            for _, id := range missing {
                q, err := s.FetchQuote(ctx, id)
                if err != nil {
                    c.log.WithError(err).Debugf("source %s failed for %s, advancing", s.Name(), id)
                    errs = append(errs, fmt.Errorf("%s: %s: %w", s.Name(), id, err))
                    continue
                }
                out[id] = q
            }
        }
        missing = unresolved(ids, out)
        if ctx.Err() != nil {
            break
        }
    }

    if len(out) == 0 {
        err := errors.Join(errs...)
        if err == nil {
            err = source.ErrNotFound
        }
        return nil, fmt.Errorf("resolve %s: %w", strings.Join(ids, ","), err)
    }
    return out, nil
}

func unresolved(ids []string, got map[string]source.Quote) []string {
    var left []string
    for _, id := range ids {
        if _, ok := got[id]; !ok {
            left = append(left, id)
        }
    }
    return left
}
