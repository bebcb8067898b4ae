package coingeckoadapter

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/shopspring/decimal"

    "pricefeed/internal/source"
    "pricefeed/internal/source/coingecko"
)

// SimplePricer is the slice of the CoinGecko client the adapter needs.
type SimplePricer interface {
    GetSimplePrice(ctx context.Context, params coingecko.SimplePriceParams, opts ...coingecko.CoinGeckoAPIClientOption) (coingecko.SimplePrice, error)
}

type Config struct {
    Name       string        // display name, default: CoinGecko
    VsCurrency string        // quote currency for all fetches, e.g. usd
    Timeout    time.Duration // per-call bound, default 15s
}

// Adapter exposes the CoinGecko client as a batch-capable source. One
// upstream call serves a whole id set, which is what keeps the polling
// scheduler inside the aggregator's request-rate tolerance.
type Adapter struct {
    cfg    Config
    client SimplePricer
}

func New(cfg Config, client SimplePricer) *Adapter {
    if cfg.Name == "" { cfg.Name = "CoinGecko" }
    if cfg.VsCurrency == "" { cfg.VsCurrency = "usd" }
    cfg.VsCurrency = strings.ToLower(cfg.VsCurrency)
    if cfg.Timeout <= 0 { cfg.Timeout = 15 * time.Second }
    return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) FetchQuote(ctx context.Context, id string) (source.Quote, error) {
    if id == "" {
        return source.Quote{}, fmt.Errorf("%s: empty id: %w", a.cfg.Name, source.ErrInvalidRequest)
    }
    quotes, err := a.FetchQuotes(ctx, []string{id})
    if err != nil {
        return source.Quote{}, err
    }
    q, ok := quotes[id]
    if !ok {
        return source.Quote{}, fmt.Errorf("%s: %s: %w", a.cfg.Name, id, source.ErrNotFound)
    }
    return q, nil
}

func (a *Adapter) FetchQuotes(ctx context.Context, ids []string) (map[string]source.Quote, error) {
    if len(ids) == 0 {
        return nil, fmt.Errorf("%s: empty id set: %w", a.cfg.Name, source.ErrInvalidRequest)
    }
    ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
    defer cancel()
    prices, err := a.client.GetSimplePrice(ctx, coingecko.SimplePriceParams{
        IDs:          ids,
        VsCurrencies: []string{a.cfg.VsCurrency},
    })
    if err != nil {
        return nil, fmt.Errorf("%s: %w", a.cfg.Name, mapErr(err))
    }

    now := time.Now().UTC()
    out := make(map[string]source.Quote, len(prices))
    for _, id := range ids {
        vs, ok := prices[id]
        if !ok { continue } // absent ids are simply missing from the result
        n, ok := vs[a.cfg.VsCurrency]
        if !ok { continue }
        v, err := decimal.NewFromString(n.String())
        if err != nil || v.Sign() <= 0 { continue }
        out[id] = source.Quote{
            ID:       id,
            Value:    v,
            Currency: strings.ToUpper(a.cfg.VsCurrency),
            Source:   a.cfg.Name,
            At:       now,
        }
    }
    if len(out) == 0 {
        return nil, fmt.Errorf("%s: no usable prices for %s: %w", a.cfg.Name, strings.Join(ids, ","), source.ErrNotFound)
    }
    return out, nil
}

// mapErr folds client error kinds onto the source kinds the chain and
// scheduler classify on.
func mapErr(err error) error {
    switch {
    case errors.Is(err, coingecko.ErrNotFound):
        return fmt.Errorf("%v: %w", err, source.ErrNotFound)
    case errors.Is(err, coingecko.ErrBadRequest):
        return fmt.Errorf("%v: %w", err, source.ErrInvalidRequest)
    case errors.Is(err, coingecko.ErrDecode):
        return fmt.Errorf("%v: %w", err, source.ErrDecode)
    default:
        // Rate limits, auth problems and plain transport all read the
        // same to the chain: advance to the next source.
        return fmt.Errorf("%v: %w", err, source.ErrTransport)
    }
}
