package main

import (
    "compress/gzip"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "os"
    "os/signal"
    "strconv"
    "strings"
    "sync"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/sirupsen/logrus"

    "pricefeed/internal/config"
    "pricefeed/internal/feed"
    "pricefeed/internal/httpx"
    "pricefeed/internal/metrics"
    "pricefeed/internal/source"
    "pricefeed/internal/source/binance"
    "pricefeed/internal/source/cache"
    "pricefeed/internal/source/chain"
    "pricefeed/internal/source/coingecko"
    "pricefeed/internal/source/coingeckoadapter"
    "pricefeed/internal/source/ratelimit"
    "pricefeed/internal/source/spot"
    "pricefeed/internal/symbol"
)

type quotesResponse struct {
    Quotes []source.Quote `json:"quotes"`
}

// chartGetter is the slice of the CoinGecko client the history endpoint
// needs. /api/history stays registered only when a client exists.
type chartGetter interface {
    GetMarketChart(ctx context.Context, params coingecko.MarketChartParams, opts ...coingecko.CoinGeckoAPIClientOption) (*coingecko.MarketChart, error)
}

func main() {
    // Config
    cfgPath := os.Getenv("CONFIG_FILE")
    cfg, err := config.Load(cfgPath)
    if err != nil { logrus.Fatalf("config: %v", err) }

    log := logrus.StandardLogger()
    if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
        log.SetLevel(lvl)
    } else {
        log.Warnf("unknown log level %q, using info", cfg.LogLevel)
    }

    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
    httpClient.UserAgent = "pricefeed/1.0"

    sources, charts := buildSources(cfg, httpClient, log)
    if len(sources) == 0 {
        log.Fatal("no sources enabled; enable at least one of spot/binance/coingecko")
    }

    m := metrics.New(prometheus.DefaultRegisterer)
    table := symbol.NewTable(cfg.Symbols.Aliases)

    svc := feed.New(feed.Config{
        Resolver: chain.New(log, sources...),
        Table:    table,
        Interval: time.Duration(cfg.Feed.PollIntervalSec) * time.Second,
        MaxDelay: time.Duration(cfg.Feed.MaxBackoffSec) * time.Second,
        Buffer:   cfg.Feed.BufferSize,
        Logger:   log,
        Metrics:  m,
    })

    mux := newMux(svc, charts, table, log)

    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        IdleTimeout:       60 * time.Second,
        // No WriteTimeout: /api/stream holds its response open for the
        // lifetime of the subscription.
    }

    go func() {
        log.Infof("server listening on :%s", cfg.Server.Port)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatalf("server: %v", err)
        }
    }()

    // graceful shutdown: stop accepting, drain handlers, then stop the feed
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    <-ctx.Done()
    log.Info("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
    svc.Close()
}

// buildSources assembles the fallback chain in priority order: spot first,
// then the exchange ticker, then the aggregator. Each source carries its own
// rate limit; the cache wraps outside the limiter so hits spend no tokens.
func buildSources(cfg config.Config, hc *httpx.Client, log logrus.FieldLogger) ([]source.Source, chartGetter) {
    var sources []source.Source
    var charts chartGetter

    if cfg.Spot.Enabled {
        if cfg.Spot.Endpoint == "" {
            log.Warn("spot.enabled=true but endpoint not set; skipping")
        } else {
            sources = append(sources, spot.New(spot.Config{
                Name:     cfg.Spot.Name,
                Endpoint: cfg.Spot.Endpoint,
                Timeout:  time.Duration(cfg.Spot.TimeoutSec) * time.Second,
            }, hc))
        }
    }
    if cfg.Binance.Enabled {
        var s source.Source = binance.New(binance.Config{
            Endpoint:   cfg.Binance.Endpoint,
            QuoteAsset: cfg.Binance.QuoteAsset,
            Timeout:    time.Duration(cfg.Binance.TimeoutSec) * time.Second,
        }, hc)
        s = ratelimit.Wrap(s, cfg.Binance.MaxRequestsPerMinute, cfg.Binance.Burst)
        sources = append(sources, s)
    }
    if cfg.Coingecko.Enabled {
        opts := []coingecko.CoinGeckoAPIClientOption{
            coingecko.WithHTTPClient(hc.HTTP),
            coingecko.WithHeader(http.Header{"User-Agent": []string{"pricefeed/1.0"}}),
        }
        if cfg.Coingecko.Endpoint != "" {
            opts = append(opts, coingecko.WithBaseURL(cfg.Coingecko.Endpoint))
        }
        client, err := coingecko.NewCoinGeckoAPIClient(cfg.Coingecko.APIKey, opts...)
        if err != nil {
            log.WithError(err).Warn("coingecko client error; skipping")
        } else {
            var s source.Source = coingeckoadapter.New(coingeckoadapter.Config{
                VsCurrency: cfg.Coingecko.VsCurrency,
                Timeout:    time.Duration(cfg.Coingecko.TimeoutSec) * time.Second,
            }, client)
            s = ratelimit.Wrap(s, cfg.Coingecko.MaxRequestsPerMinute, cfg.Coingecko.Burst)
            if cfg.Coingecko.CacheTTLSeconds > 0 {
                s = cache.Wrap(s, time.Duration(cfg.Coingecko.CacheTTLSeconds)*time.Second, cfg.Coingecko.CacheMaxItems)
            }
            sources = append(sources, s)
            charts = client
        }
    }
    return sources, charts
}

func newMux(svc *feed.Service, charts chartGetter, table *symbol.Table, log logrus.FieldLogger) *http.ServeMux {
    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    mux.HandleFunc("/api/quotes", func(w http.ResponseWriter, r *http.Request) {
        switch r.Method {
        case http.MethodGet:
            handleGetQuotes(w, r, svc)
        case http.MethodPost:
            handlePostQuotes(w, r, svc)
        default:
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        }
    })
    mux.HandleFunc("/api/stream", func(w http.ResponseWriter, r *http.Request) {
        handleStream(w, r, svc, log)
    })
    if charts != nil {
        mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
            handleHistory(w, r, charts, table)
        })
    }
    return mux
}

func handleGetQuotes(w http.ResponseWriter, r *http.Request, svc *feed.Service) {
    q := r.URL.Query().Get("symbols")
    if strings.TrimSpace(q) == "" {
        http.Error(w, "missing symbols query param", http.StatusBadRequest)
        return
    }
    symbols := splitCSV(q)
    if len(symbols) > 1000 {
        http.Error(w, "too many symbols (max 1000)", http.StatusBadRequest)
        return
    }
    writeQuotes(w, r.Context(), svc, symbols)
}

type postBody struct {
    Symbols []string `json:"symbols"`
}

func handlePostQuotes(w http.ResponseWriter, r *http.Request, svc *feed.Service) {
    var b postBody
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(&b); err != nil {
        http.Error(w, "invalid JSON body", http.StatusBadRequest)
        return
    }
    if len(b.Symbols) == 0 {
        http.Error(w, "symbols cannot be empty", http.StatusBadRequest)
        return
    }
    if len(b.Symbols) > 1000 {
        http.Error(w, "too many symbols (max 1000)", http.StatusBadRequest)
        return
    }
    writeQuotes(w, r.Context(), svc, b.Symbols)
}

func writeQuotes(w http.ResponseWriter, rctx context.Context, svc *feed.Service, symbols []string) {
    ctx, cancel := context.WithTimeout(rctx, 15*time.Second)
    defer cancel()
    quotes, err := svc.FetchAll(ctx, symbols)
    if err != nil {
        if errors.Is(err, source.ErrInvalidRequest) {
            http.Error(w, err.Error(), http.StatusBadRequest)
            return
        }
        http.Error(w, err.Error(), http.StatusBadGateway)
        return
    }
    resp := quotesResponse{Quotes: make([]source.Quote, 0, len(quotes))}
    for _, q := range quotes {
        resp.Quotes = append(resp.Quotes, q)
    }
    w.WriteHeader(http.StatusOK)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    enc.Encode(resp)
}

// handleStream serves live updates as server-sent events, one data frame
// per publish. The subscription lives until the client goes away or the
// feed shuts down.
func handleStream(w http.ResponseWriter, r *http.Request, svc *feed.Service, log logrus.FieldLogger) {
    if r.Method != http.MethodGet {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    flusher, ok := w.(http.Flusher)
    if !ok {
        http.Error(w, "streaming unsupported", http.StatusInternalServerError)
        return
    }
    q := r.URL.Query().Get("symbols")
    if strings.TrimSpace(q) == "" {
        http.Error(w, "missing symbols query param", http.StatusBadRequest)
        return
    }
    var every time.Duration
    if v := r.URL.Query().Get("interval_sec"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil || n <= 0 {
            http.Error(w, "interval_sec must be a positive integer", http.StatusBadRequest)
            return
        }
        every = time.Duration(n) * time.Second
    }

    sub, err := svc.Subscribe(splitCSV(q), every)
    if err != nil {
        if errors.Is(err, feed.ErrClosed) {
            http.Error(w, "shutting down", http.StatusServiceUnavailable)
            return
        }
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }
    defer sub.Close()

    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    w.WriteHeader(http.StatusOK)
    flusher.Flush()

    for {
        select {
        case <-r.Context().Done():
            return
        case u, ok := <-sub.Updates():
            if !ok {
                return
            }
            b, err := json.Marshal(u)
            if err != nil {
                log.WithError(err).Warn("stream: encode update")
                continue
            }
            fmt.Fprintf(w, "data: %s\n\n", b)
            flusher.Flush()
        }
    }
}

type historyResponse struct {
    ID     string           `json:"id"`
    Days   int              `json:"days"`
    Prices [][2]json.Number `json:"prices"`
}

func handleHistory(w http.ResponseWriter, r *http.Request, charts chartGetter, table *symbol.Table) {
    if r.Method != http.MethodGet {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    id := table.Normalize(r.URL.Query().Get("symbol"))
    if id == "" {
        http.Error(w, "missing symbol query param", http.StatusBadRequest)
        return
    }
    days := 1
    if v := r.URL.Query().Get("days"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil || n < 1 || n > 365 {
            http.Error(w, "days must be in 1..365", http.StatusBadRequest)
            return
        }
        days = n
    }
    ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
    defer cancel()
    chart, err := charts.GetMarketChart(ctx, coingecko.MarketChartParams{ID: id, Days: days})
    if err != nil {
        switch {
        case errors.Is(err, coingecko.ErrNotFound):
            http.Error(w, "unknown symbol", http.StatusNotFound)
        case errors.Is(err, coingecko.ErrBadRequest):
            http.Error(w, err.Error(), http.StatusBadRequest)
        default:
            http.Error(w, err.Error(), http.StatusBadGateway)
        }
        return
    }
    w.WriteHeader(http.StatusOK)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    enc.Encode(historyResponse{ID: id, Days: days, Prices: chart.Prices})
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        // Basic CORS for browser usage; adjust as needed.
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses response when client supports gzip. Event streams
// are passed through untouched: the wrapper hides http.Flusher and frames
// must leave as they are produced.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        // Prefer best speed to reduce CPU usage since payloads are JSON
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") || r.URL.Path == "/api/stream" {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
        next.ServeHTTP(gw, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 1 << 20 // 1MB
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPost && r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                logrus.Errorf("panic serving %s: %v", r.URL.Path, rec)
                http.Error(w, "internal server error", http.StatusInternalServerError)
            }
        }()
        next.ServeHTTP(w, r)
    })
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
