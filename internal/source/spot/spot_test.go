package spot

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/shopspring/decimal"

    "pricefeed/internal/httpx"
    "pricefeed/internal/source"
)

func newClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
    t.Helper()
    srv := httptest.NewServer(handler)
    t.Cleanup(srv.Close)
    c := New(Config{Endpoint: srv.URL, Timeout: 2 * time.Second}, httpx.New(2*time.Second))
    return c, srv
}

func TestFetchQuote_HappyPath(t *testing.T) {
    var gotID string
    c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
        gotID = r.URL.Query().Get("id")
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write([]byte(`{"id":"bitcoin","price":67000.5}`))
    })

    q, err := c.FetchQuote(context.Background(), "bitcoin")
    if err != nil { t.Fatalf("unexpected error: %v", err) }
    if gotID != "bitcoin" { t.Fatalf("id query param: %q", gotID) }
    if !q.Value.Equal(decimal.NewFromFloat(67000.5)) {
        t.Fatalf("value: %s", q.Value)
    }
    if q.ID != "bitcoin" || q.Source != "Spot" || q.At.IsZero() {
        t.Fatalf("unexpected quote: %+v", q)
    }
}

func TestFetchQuote_StringPriceAlsoAccepted(t *testing.T) {
    c, _ := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
        _, _ = w.Write([]byte(`{"id":"bitcoin","price":"67000.50000000"}`))
    })
    q, err := c.FetchQuote(context.Background(), "bitcoin")
    if err != nil { t.Fatalf("unexpected error: %v", err) }
    want, _ := decimal.NewFromString("67000.5")
    if !q.Value.Equal(want) { t.Fatalf("value: %s", q.Value) }
}

func TestFetchQuote_ErrorKinds(t *testing.T) {
    cases := []struct {
        name    string
        handler http.HandlerFunc
        want    error
    }{
        {"not found", func(w http.ResponseWriter, _ *http.Request) {
            http.Error(w, "no such id", http.StatusNotFound)
        }, source.ErrNotFound},
        {"upstream error", func(w http.ResponseWriter, _ *http.Request) {
            http.Error(w, "boom", http.StatusInternalServerError)
        }, source.ErrTransport},
        {"malformed body", func(w http.ResponseWriter, _ *http.Request) {
            _, _ = w.Write([]byte(`{"id":`))
        }, source.ErrDecode},
        {"non-positive price", func(w http.ResponseWriter, _ *http.Request) {
            _, _ = w.Write([]byte(`{"id":"bitcoin","price":0}`))
        }, source.ErrDecode},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            c, _ := newClient(t, tc.handler)
            _, err := c.FetchQuote(context.Background(), "bitcoin")
            if !errors.Is(err, tc.want) {
                t.Fatalf("want %v, got %v", tc.want, err)
            }
        })
    }
}

func TestFetchQuote_GuardsBeforeAnyRequest(t *testing.T) {
    c := New(Config{}, httpx.New(time.Second))
    if _, err := c.FetchQuote(context.Background(), "bitcoin"); !errors.Is(err, source.ErrInvalidRequest) {
        t.Fatalf("unconfigured endpoint: %v", err)
    }

    c2, _ := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
        t.Error("request should not be issued for an empty id")
    })
    if _, err := c2.FetchQuote(context.Background(), ""); !errors.Is(err, source.ErrInvalidRequest) {
        t.Fatalf("empty id: %v", err)
    }
}

func TestFetchQuote_ContextTimeoutIsTransport(t *testing.T) {
    release := make(chan struct{})
    c, _ := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
        <-release
    })
    defer close(release)
    c.cfg.Timeout = 30 * time.Millisecond

    _, err := c.FetchQuote(context.Background(), "bitcoin")
    if !errors.Is(err, source.ErrTransport) {
        t.Fatalf("want transport failure, got %v", err)
    }
}
