package main

import (
    "bufio"
    "compress/gzip"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/shopspring/decimal"
    "github.com/sirupsen/logrus"

    "pricefeed/internal/feed"
    "pricefeed/internal/source"
    "pricefeed/internal/source/coingecko"
    "pricefeed/internal/symbol"
)

type stubResolver struct {
    quotes map[string]source.Quote
    err    error
}

func (s stubResolver) Resolve(_ context.Context, id string) (source.Quote, error) {
    if s.err != nil { return source.Quote{}, s.err }
    q, ok := s.quotes[id]
    if !ok { return source.Quote{}, fmt.Errorf("resolve %s: %w", id, source.ErrNotFound) }
    return q, nil
}

func (s stubResolver) ResolveAll(_ context.Context, ids []string) (map[string]source.Quote, error) {
    if s.err != nil { return nil, s.err }
    out := make(map[string]source.Quote, len(ids))
    for _, id := range ids {
        if q, ok := s.quotes[id]; ok { out[id] = q }
    }
    if len(out) == 0 { return nil, fmt.Errorf("resolve %s: %w", strings.Join(ids, ","), source.ErrNotFound) }
    return out, nil
}

func testQuote(id, v string) source.Quote {
    return source.Quote{ID: id, Value: decimal.RequireFromString(v), Currency: "USD", Source: "test", At: time.Now().UTC()}
}

func newTestMux(t *testing.T, r feed.Resolver, charts chartGetter) (*http.ServeMux, *feed.Service) {
    t.Helper()
    log := logrus.New()
    log.SetOutput(io.Discard)
    svc := feed.New(feed.Config{Resolver: r, Interval: 50 * time.Millisecond, Logger: log})
    t.Cleanup(svc.Close)
    return newMux(svc, charts, symbol.Default(), log), svc
}

func TestQuotes_GetNormalizesSymbols(t *testing.T) {
    mux, _ := newTestMux(t, stubResolver{quotes: map[string]source.Quote{
        "bitcoin":  testQuote("bitcoin", "67000.5"),
        "ethereum": testQuote("ethereum", "3500"),
    }}, nil)

    rr := httptest.NewRecorder()
    mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=BTC,ETHUSDT", nil))
    if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }
    var resp quotesResponse
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if len(resp.Quotes) != 2 { t.Fatalf("want 2 quotes, got %d: %+v", len(resp.Quotes), resp.Quotes) }
    byID := map[string]source.Quote{}
    for _, q := range resp.Quotes { byID[q.ID] = q }
    btc, ok := byID["bitcoin"]
    if !ok { t.Fatalf("bitcoin missing: %+v", resp.Quotes) }
    if !btc.Value.Equal(decimal.RequireFromString("67000.5")) { t.Fatalf("value=%s", btc.Value) }
    if _, ok := byID["ethereum"]; !ok { t.Fatalf("ethereum missing: %+v", resp.Quotes) }
}

func TestQuotes_PostBody(t *testing.T) {
    mux, _ := newTestMux(t, stubResolver{quotes: map[string]source.Quote{
        "bitcoin": testQuote("bitcoin", "67000.5"),
    }}, nil)

    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/api/quotes", strings.NewReader(`{"symbols":["btc"]}`))
    mux.ServeHTTP(rr, req)
    if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }
    var resp quotesResponse
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if len(resp.Quotes) != 1 || resp.Quotes[0].ID != "bitcoin" {
        t.Fatalf("unexpected: %+v", resp.Quotes)
    }
}

func TestQuotes_BadRequests(t *testing.T) {
    mux, _ := newTestMux(t, stubResolver{quotes: map[string]source.Quote{
        "bitcoin": testQuote("bitcoin", "1"),
    }}, nil)

    tooMany := strings.Repeat("btc,", 1000) + "btc"
    cases := []struct {
        name   string
        method string
        target string
        body   string
        want   int
    }{
        {"missing symbols", http.MethodGet, "/api/quotes", "", http.StatusBadRequest},
        {"no usable symbols", http.MethodGet, "/api/quotes?symbols=%20,", "", http.StatusBadRequest},
        {"too many symbols", http.MethodGet, "/api/quotes?symbols=" + tooMany, "", http.StatusBadRequest},
        {"invalid json", http.MethodPost, "/api/quotes", `{"symbols":`, http.StatusBadRequest},
        {"unknown field", http.MethodPost, "/api/quotes", `{"tickers":["btc"]}`, http.StatusBadRequest},
        {"empty post symbols", http.MethodPost, "/api/quotes", `{"symbols":[]}`, http.StatusBadRequest},
        {"method not allowed", http.MethodDelete, "/api/quotes", "", http.StatusMethodNotAllowed},
    }
    for _, tc := range cases {
        var body io.Reader
        if tc.body != "" { body = strings.NewReader(tc.body) }
        rr := httptest.NewRecorder()
        mux.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, body))
        if rr.Code != tc.want {
            t.Fatalf("%s: status=%d want %d body=%s", tc.name, rr.Code, tc.want, rr.Body.String())
        }
    }
}

func TestQuotes_UpstreamFailureMapsToBadGateway(t *testing.T) {
    mux, _ := newTestMux(t, stubResolver{err: fmt.Errorf("upstream down: %w", source.ErrTransport)}, nil)
    rr := httptest.NewRecorder()
    mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=btc", nil))
    if rr.Code != http.StatusBadGateway { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }
}

func TestStream_EmitsFramesThroughMiddleware(t *testing.T) {
    mux, _ := newTestMux(t, stubResolver{quotes: map[string]source.Quote{
        "bitcoin": testQuote("bitcoin", "67000.5"),
    }}, nil)
    ts := httptest.NewServer(withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))))
    defer ts.Close()

    req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/stream?symbols=btc", nil)
    if err != nil { t.Fatalf("request: %v", err) }
    req.Header.Set("Accept-Encoding", "gzip") // stream must opt out of compression
    resp, err := ts.Client().Do(req)
    if err != nil { t.Fatalf("get: %v", err) }
    defer resp.Body.Close()

    if resp.StatusCode != http.StatusOK { t.Fatalf("status=%d", resp.StatusCode) }
    if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" { t.Fatalf("content-type=%q", ct) }
    if enc := resp.Header.Get("Content-Encoding"); enc != "" { t.Fatalf("stream compressed: %q", enc) }

    type frame struct {
        line string
        err  error
    }
    ch := make(chan frame, 1)
    go func() {
        line, err := bufio.NewReader(resp.Body).ReadString('\n')
        ch <- frame{line, err}
    }()
    select {
    case f := <-ch:
        if f.err != nil { t.Fatalf("read frame: %v", f.err) }
        if !strings.HasPrefix(f.line, "data: ") { t.Fatalf("frame %q", f.line) }
        if !strings.Contains(f.line, `"bitcoin"`) { t.Fatalf("frame %q", f.line) }
    case <-time.After(2 * time.Second):
        t.Fatal("no frame within 2s")
    }
}

func TestStream_BadRequests(t *testing.T) {
    mux, _ := newTestMux(t, stubResolver{quotes: map[string]source.Quote{
        "bitcoin": testQuote("bitcoin", "1"),
    }}, nil)

    cases := []struct {
        name   string
        method string
        target string
        want   int
    }{
        {"missing symbols", http.MethodGet, "/api/stream", http.StatusBadRequest},
        {"bad interval", http.MethodGet, "/api/stream?symbols=btc&interval_sec=soon", http.StatusBadRequest},
        {"zero interval", http.MethodGet, "/api/stream?symbols=btc&interval_sec=0", http.StatusBadRequest},
        {"method not allowed", http.MethodPost, "/api/stream?symbols=btc", http.StatusMethodNotAllowed},
    }
    for _, tc := range cases {
        rr := httptest.NewRecorder()
        mux.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, nil))
        if rr.Code != tc.want {
            t.Fatalf("%s: status=%d want %d body=%s", tc.name, rr.Code, tc.want, rr.Body.String())
        }
    }
}

func TestStream_AfterCloseReturnsUnavailable(t *testing.T) {
    mux, svc := newTestMux(t, stubResolver{quotes: map[string]source.Quote{
        "bitcoin": testQuote("bitcoin", "1"),
    }}, nil)
    svc.Close()

    rr := httptest.NewRecorder()
    mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stream?symbols=btc", nil))
    if rr.Code != http.StatusServiceUnavailable { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }
}

type fakeCharts struct {
    calls  int
    params coingecko.MarketChartParams
    chart  *coingecko.MarketChart
    err    error
}

func (f *fakeCharts) GetMarketChart(_ context.Context, params coingecko.MarketChartParams, _ ...coingecko.CoinGeckoAPIClientOption) (*coingecko.MarketChart, error) {
    f.calls++
    f.params = params
    if f.err != nil { return nil, f.err }
    return f.chart, nil
}

func TestHistory_NormalizesSymbolAndServesChart(t *testing.T) {
    charts := &fakeCharts{chart: &coingecko.MarketChart{Prices: [][2]json.Number{
        {json.Number("1700000000000"), json.Number("67000.5")},
        {json.Number("1700000300000"), json.Number("67100.25")},
    }}}
    mux, _ := newTestMux(t, stubResolver{}, charts)

    rr := httptest.NewRecorder()
    mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?symbol=BTC&days=7", nil))
    if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }
    if charts.params.ID != "bitcoin" || charts.params.Days != 7 {
        t.Fatalf("upstream params: %+v", charts.params)
    }
    var resp historyResponse
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if resp.ID != "bitcoin" || resp.Days != 7 || len(resp.Prices) != 2 {
        t.Fatalf("unexpected: %+v", resp)
    }
}

func TestHistory_ErrorMapping(t *testing.T) {
    cases := []struct {
        name string
        err  error
        want int
    }{
        {"not found", coingecko.ErrNotFound, http.StatusNotFound},
        {"bad request", coingecko.ErrBadRequest, http.StatusBadRequest},
        {"rate limited", coingecko.ErrRateLimited, http.StatusBadGateway},
        {"plain", fmt.Errorf("connection reset"), http.StatusBadGateway},
    }
    for _, tc := range cases {
        charts := &fakeCharts{err: fmt.Errorf("market chart: %w", tc.err)}
        mux, _ := newTestMux(t, stubResolver{}, charts)
        rr := httptest.NewRecorder()
        mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?symbol=btc", nil))
        if rr.Code != tc.want {
            t.Fatalf("%s: status=%d want %d body=%s", tc.name, rr.Code, tc.want, rr.Body.String())
        }
    }
}

func TestHistory_RejectsBadDays(t *testing.T) {
    charts := &fakeCharts{chart: &coingecko.MarketChart{}}
    mux, _ := newTestMux(t, stubResolver{}, charts)
    for _, v := range []string{"0", "366", "soon"} {
        rr := httptest.NewRecorder()
        mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?symbol=btc&days="+v, nil))
        if rr.Code != http.StatusBadRequest {
            t.Fatalf("days=%s: status=%d body=%s", v, rr.Code, rr.Body.String())
        }
    }
    if charts.calls != 0 { t.Fatalf("upstream called %d times", charts.calls) }
}

func TestHistory_AbsentWithoutClient(t *testing.T) {
    mux, _ := newTestMux(t, stubResolver{}, nil)
    rr := httptest.NewRecorder()
    mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history?symbol=btc", nil))
    if rr.Code != http.StatusNotFound { t.Fatalf("status=%d", rr.Code) }
}

func TestGzip_CompressesJSONResponses(t *testing.T) {
    mux, _ := newTestMux(t, stubResolver{quotes: map[string]source.Quote{
        "bitcoin": testQuote("bitcoin", "67000.5"),
    }}, nil)
    h := withJSONHeaders(withGzip(recoverPanic(limitBody(mux))))

    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodGet, "/api/quotes?symbols=btc", nil)
    req.Header.Set("Accept-Encoding", "gzip")
    h.ServeHTTP(rr, req)
    if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String()) }
    if enc := rr.Header().Get("Content-Encoding"); enc != "gzip" { t.Fatalf("encoding=%q", enc) }

    zr, err := gzip.NewReader(rr.Body)
    if err != nil { t.Fatalf("gzip reader: %v", err) }
    defer zr.Close()
    var resp quotesResponse
    if err := json.NewDecoder(zr).Decode(&resp); err != nil { t.Fatalf("decode: %v", err) }
    if len(resp.Quotes) != 1 || resp.Quotes[0].ID != "bitcoin" {
        t.Fatalf("unexpected: %+v", resp.Quotes)
    }
}
