package source

import (
    "context"
    "errors"
    "time"

    "github.com/shopspring/decimal"
)

// Quote is the normalized shape returned by all sources.
// Value is decimal to survive round-trips of exchange decimal strings.
type Quote struct {
    ID       string          `json:"id"`
    Value    decimal.Decimal `json:"value"`
    Currency string          `json:"currency"`
    Source   string          `json:"source"`
    At       time.Time       `json:"at"`
}

// Failure kinds. All four are soft: a failing source makes the fallback
// chain advance, and a failing chain makes the scheduler back off. Wrap
// with fmt.Errorf("...: %w", ...) so errors.Is keeps classifying them.
var (
    // ErrTransport covers timeouts, connection failures and upstream
    // unavailability (non-2xx replies that are not a missing id).
    ErrTransport = errors.New("transport failure")
    // ErrDecode covers malformed or unexpectedly shaped payloads,
    // including unparseable or non-positive price values.
    ErrDecode = errors.New("malformed payload")
    // ErrNotFound means the upstream answered but does not know the id.
    ErrNotFound = errors.New("id not found")
    // ErrInvalidRequest means no request could be built for the id.
    ErrInvalidRequest = errors.New("invalid request")
)

// Source fetches a single current quote for one canonical id.
// Implementations bound each call with their own request timeout.
type Source interface {
    Name() string
    FetchQuote(ctx context.Context, id string) (Quote, error)
}

// BatchSource is a Source that can serve a whole id set in one upstream
// call. Ids the upstream does not know are simply absent from the result
// map; the call errors only when it produced nothing usable at all.
type BatchSource interface {
    Source
    FetchQuotes(ctx context.Context, ids []string) (map[string]Quote, error)
}

// Func adapts a bare quote function to the Source interface, for
// embedders that already have a spot-price lookup in process.
type Func struct {
    SourceName string
    Fn         func(ctx context.Context, id string) (decimal.Decimal, error)
}

func (f Func) Name() string {
    if f.SourceName == "" { return "func" }
    return f.SourceName
}

func (f Func) FetchQuote(ctx context.Context, id string) (Quote, error) {
    v, err := f.Fn(ctx, id)
    if err != nil {
        return Quote{}, err
    }
    return Quote{ID: id, Value: v, Currency: "USD", Source: f.Name(), At: time.Now().UTC()}, nil
}
