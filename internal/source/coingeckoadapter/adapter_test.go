package coingeckoadapter

import (
    "context"
    "encoding/json"
    "errors"
    "testing"

    "pricefeed/internal/source"
    "pricefeed/internal/source/coingecko"
)

type fakePricer struct {
    prices coingecko.SimplePrice
    err    error

    calls  int
    params coingecko.SimplePriceParams
}

func (f *fakePricer) GetSimplePrice(_ context.Context, params coingecko.SimplePriceParams, _ ...coingecko.CoinGeckoAPIClientOption) (coingecko.SimplePrice, error) {
    f.calls++
    f.params = params
    if f.err != nil { return nil, f.err }
    return f.prices, nil
}

func TestAdapter_FetchQuotes(t *testing.T) {
    pricer := &fakePricer{prices: coingecko.SimplePrice{
        "bitcoin":  {"usd": json.Number("67000.5")},
        "ethereum": {"usd": json.Number("3500")},
    }}
    a := New(Config{}, pricer)

    quotes, err := a.FetchQuotes(context.Background(), []string{"bitcoin", "ethereum"})
    if err != nil {
        t.Fatalf("FetchQuotes: %v", err)
    }
    if pricer.calls != 1 {
        t.Fatalf("upstream calls = %d, want 1", pricer.calls)
    }
    if got := pricer.params.IDs; len(got) != 2 || got[0] != "bitcoin" || got[1] != "ethereum" {
        t.Fatalf("ids sent upstream = %v", got)
    }
    if got := pricer.params.VsCurrencies; len(got) != 1 || got[0] != "usd" {
        t.Fatalf("vs currencies sent upstream = %v", got)
    }
    if len(quotes) != 2 {
        t.Fatalf("len(quotes) = %d, want 2", len(quotes))
    }
    btc := quotes["bitcoin"]
    if got := btc.Value.String(); got != "67000.5" {
        t.Errorf("bitcoin value = %s, want 67000.5", got)
    }
    if btc.Currency != "USD" {
        t.Errorf("currency = %q, want USD", btc.Currency)
    }
    if btc.Source != "CoinGecko" {
        t.Errorf("source = %q, want CoinGecko", btc.Source)
    }
    if btc.At.IsZero() {
        t.Error("At not stamped")
    }
}

func TestAdapter_FetchQuotesPartial(t *testing.T) {
    pricer := &fakePricer{prices: coingecko.SimplePrice{
        "bitcoin": {"usd": json.Number("67000.5")},
    }}
    a := New(Config{}, pricer)

    quotes, err := a.FetchQuotes(context.Background(), []string{"bitcoin", "no-such-coin"})
    if err != nil {
        t.Fatalf("FetchQuotes: %v", err)
    }
    if len(quotes) != 1 {
        t.Fatalf("len(quotes) = %d, want 1", len(quotes))
    }
    if _, ok := quotes["no-such-coin"]; ok {
        t.Error("unknown id produced a quote")
    }
}

func TestAdapter_FetchQuotesSkipsUnusableValues(t *testing.T) {
    pricer := &fakePricer{prices: coingecko.SimplePrice{
        "bitcoin":  {"usd": json.Number("0")},
        "ethereum": {"usd": json.Number("not-a-number")},
        "solana":   {"eur": json.Number("150")}, // wrong currency
    }}
    a := New(Config{}, pricer)

    _, err := a.FetchQuotes(context.Background(), []string{"bitcoin", "ethereum", "solana"})
    if !errors.Is(err, source.ErrNotFound) {
        t.Fatalf("err = %v, want ErrNotFound when nothing usable remains", err)
    }
}

func TestAdapter_FetchQuotesEmptyIDs(t *testing.T) {
    pricer := &fakePricer{}
    a := New(Config{}, pricer)

    _, err := a.FetchQuotes(context.Background(), nil)
    if !errors.Is(err, source.ErrInvalidRequest) {
        t.Fatalf("err = %v, want ErrInvalidRequest", err)
    }
    if pricer.calls != 0 {
        t.Fatalf("upstream called %d times for empty id set", pricer.calls)
    }
}

func TestAdapter_FetchQuote(t *testing.T) {
    pricer := &fakePricer{prices: coingecko.SimplePrice{
        "bitcoin": {"usd": json.Number("67000.5")},
    }}
    a := New(Config{Name: "Gecko"}, pricer)

    q, err := a.FetchQuote(context.Background(), "bitcoin")
    if err != nil {
        t.Fatalf("FetchQuote: %v", err)
    }
    if q.ID != "bitcoin" || q.Source != "Gecko" {
        t.Fatalf("quote = %+v", q)
    }
}

func TestAdapter_FetchQuoteMissingID(t *testing.T) {
    pricer := &fakePricer{prices: coingecko.SimplePrice{
        "bitcoin": {"usd": json.Number("67000.5")},
    }}
    a := New(Config{}, pricer)

    // The upstream answers, just not for this id.
    pricer.prices = coingecko.SimplePrice{"other": {"usd": json.Number("1")}}
    _, err := a.FetchQuote(context.Background(), "bitcoin")
    if !errors.Is(err, source.ErrNotFound) {
        t.Fatalf("err = %v, want ErrNotFound", err)
    }
}

func TestAdapter_ErrorMapping(t *testing.T) {
    tests := []struct {
        name     string
        upstream error
        want     error
    }{
        {"not found", coingecko.ErrNotFound, source.ErrNotFound},
        {"bad request", coingecko.ErrBadRequest, source.ErrInvalidRequest},
        {"decode", coingecko.ErrDecode, source.ErrDecode},
        {"rate limited", coingecko.ErrRateLimited, source.ErrTransport},
        {"unauthorized", coingecko.ErrUnauthorized, source.ErrTransport},
        {"plain transport", errors.New("connection refused"), source.ErrTransport},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            a := New(Config{}, &fakePricer{err: tt.upstream})
            _, err := a.FetchQuotes(context.Background(), []string{"bitcoin"})
            if !errors.Is(err, tt.want) {
                t.Fatalf("err = %v, want %v", err, tt.want)
            }
        })
    }
}
