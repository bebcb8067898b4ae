package binance

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"

    "github.com/shopspring/decimal"

    "pricefeed/internal/httpx"
    "pricefeed/internal/source"
)

type Config struct {
    Name       string
    Endpoint   string // e.g. https://api.binance.com/api/v3/ticker/price
    QuoteAsset string // pair suffix, e.g. USDT
    Timeout    time.Duration
}

// Source asks the exchange's public ticker for the last trade price of
// one pair per call. The pair is uppercase(id) + the configured quote
// asset; ids the exchange does not list come back as not found and the
// chain moves on.
type Source struct {
    cfg    Config
    client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Source {
    if cfg.Name == "" { cfg.Name = "Binance" }
    if cfg.Endpoint == "" { cfg.Endpoint = "https://api.binance.com/api/v3/ticker/price" }
    if cfg.QuoteAsset == "" { cfg.QuoteAsset = "USDT" }
    if cfg.Timeout <= 0 { cfg.Timeout = 15 * time.Second }
    return &Source{cfg: cfg, client: hc}
}

func (s *Source) Name() string { return s.cfg.Name }

// Pair builds the exchange pair symbol for a canonical id.
func (s *Source) Pair(id string) string {
    return strings.ToUpper(id) + strings.ToUpper(s.cfg.QuoteAsset)
}

type payload struct {
    Symbol string `json:"symbol"`
    Price  string `json:"price"`
}

func (s *Source) FetchQuote(ctx context.Context, id string) (source.Quote, error) {
    if id == "" {
        return source.Quote{}, fmt.Errorf("binance: empty id: %w", source.ErrInvalidRequest)
    }
    u, err := url.Parse(s.cfg.Endpoint)
    if err != nil {
        return source.Quote{}, fmt.Errorf("binance: endpoint %q: %w", s.cfg.Endpoint, source.ErrInvalidRequest)
    }
    q := u.Query()
    q.Set("symbol", s.Pair(id))
    u.RawQuery = q.Encode()

    ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
    defer cancel()
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
    if err != nil {
        return source.Quote{}, fmt.Errorf("binance: build request: %v: %w", err, source.ErrInvalidRequest)
    }
    req.Header.Set("Accept", "application/json")

    resp, err := s.client.Do(ctx, req)
    if err != nil {
        return source.Quote{}, fmt.Errorf("binance: GET %s: %v: %w", u.Path, err, source.ErrTransport)
    }
    defer resp.Body.Close()
    switch resp.StatusCode {
    case http.StatusOK:
    case http.StatusBadRequest, http.StatusNotFound:
        // The ticker answers 400 {"code":-1121,...} for unknown pairs.
        return source.Quote{}, fmt.Errorf("binance: no pair %s: %w", s.Pair(id), source.ErrNotFound)
    default:
        b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
        return source.Quote{}, fmt.Errorf("binance: GET %s -> %d: %s: %w", u.Path, resp.StatusCode, string(b), source.ErrTransport)
    }

    var body payload
    if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
        return source.Quote{}, fmt.Errorf("binance: decode: %v: %w", err, source.ErrDecode)
    }
    // Prices arrive as decimal strings ("67000.50000000"); parse without
    // a float round-trip.
    v, err := decimal.NewFromString(strings.TrimSpace(body.Price))
    if err != nil {
        return source.Quote{}, fmt.Errorf("binance: price %q: %w", body.Price, source.ErrDecode)
    }
    if v.Sign() <= 0 {
        return source.Quote{}, fmt.Errorf("binance: non-positive price %s for %s: %w", v, id, source.ErrDecode)
    }
    return source.Quote{ID: id, Value: v, Currency: strings.ToUpper(s.cfg.QuoteAsset), Source: s.cfg.Name, At: time.Now().UTC()}, nil
}
