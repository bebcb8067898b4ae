package spot

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/url"
    "time"

    "github.com/shopspring/decimal"

    "pricefeed/internal/httpx"
    "pricefeed/internal/source"
)

// Config controls the spot source. The endpoint is own infrastructure
// (or anything speaking the same shape), so the source stays out of the
// chain until one is configured.
type Config struct {
    Name     string
    Endpoint string            // e.g. http://quotes.internal/api/v0/quote
    Headers  map[string]string // optional extra headers
    Timeout  time.Duration
}

// Client fetches one quote per call from a single-quote endpoint:
// GET <endpoint>?id=<id> -> {"id": "...", "price": <number>}.
type Client struct {
    cfg    Config
    client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Client {
    if cfg.Name == "" { cfg.Name = "Spot" }
    if cfg.Timeout <= 0 { cfg.Timeout = 15 * time.Second }
    return &Client{cfg: cfg, client: hc}
}

func (c *Client) Name() string { return c.cfg.Name }

type payload struct {
    ID    string      `json:"id"`
    Price json.Number `json:"price"`
}

func (c *Client) FetchQuote(ctx context.Context, id string) (source.Quote, error) {
    if id == "" {
        return source.Quote{}, fmt.Errorf("spot: empty id: %w", source.ErrInvalidRequest)
    }
    if c.cfg.Endpoint == "" {
        return source.Quote{}, fmt.Errorf("spot: no endpoint configured: %w", source.ErrInvalidRequest)
    }
    u, err := url.Parse(c.cfg.Endpoint)
    if err != nil {
        return source.Quote{}, fmt.Errorf("spot: endpoint %q: %w", c.cfg.Endpoint, source.ErrInvalidRequest)
    }
    q := u.Query()
    q.Set("id", id)
    u.RawQuery = q.Encode()

    ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
    defer cancel()
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
    if err != nil {
        return source.Quote{}, fmt.Errorf("spot: build request: %v: %w", err, source.ErrInvalidRequest)
    }
    req.Header.Set("Accept", "application/json")
    for k, v := range c.cfg.Headers { req.Header.Set(k, v) }

    resp, err := c.client.Do(ctx, req)
    if err != nil {
        return source.Quote{}, fmt.Errorf("spot: GET %s: %v: %w", u.Path, err, source.ErrTransport)
    }
    defer resp.Body.Close()
    switch resp.StatusCode {
    case http.StatusOK:
    case http.StatusNotFound:
        return source.Quote{}, fmt.Errorf("spot: %s: %w", id, source.ErrNotFound)
    default:
        return source.Quote{}, fmt.Errorf("spot: GET %s -> %d: %w", u.Path, resp.StatusCode, source.ErrTransport)
    }

    var body payload
    dec := json.NewDecoder(resp.Body)
    dec.UseNumber()
    if err := dec.Decode(&body); err != nil {
        return source.Quote{}, fmt.Errorf("spot: decode: %v: %w", err, source.ErrDecode)
    }
    v, err := decimal.NewFromString(body.Price.String())
    if err != nil {
        return source.Quote{}, fmt.Errorf("spot: price %q: %w", body.Price, source.ErrDecode)
    }
    if v.Sign() <= 0 {
        return source.Quote{}, fmt.Errorf("spot: non-positive price %s for %s: %w", v, id, source.ErrDecode)
    }
    return source.Quote{ID: id, Value: v, Currency: "USD", Source: c.cfg.Name, At: time.Now().UTC()}, nil
}
