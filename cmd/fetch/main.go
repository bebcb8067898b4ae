package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "sort"
    "strings"
    "syscall"
    "time"

    "github.com/sirupsen/logrus"

    "pricefeed/internal/config"
    "pricefeed/internal/feed"
    "pricefeed/internal/httpx"
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

func main() {
    var symbolsCSV string
    var configPath string
    var timeout int
    var watch bool
    var intervalSec int

    flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "btc,eth"), "comma-separated tickers or coin ids")
    flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
    flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 15), "request timeout seconds")
    flag.BoolVar(&watch, "watch", getenvBool("WATCH", false), "subscribe and print updates until interrupted")
    flag.IntVar(&intervalSec, "interval", getenvInt("FETCH_INTERVAL_SEC", 0), "poll interval seconds in watch mode (0 = config default)")
    flag.Parse()

    cfg, err := config.Load(configPath)
    if err != nil { logrus.Fatalf("config: %v", err) }
    if timeout != 0 { cfg.Server.RequestTimeoutSec = timeout }

    // Updates go to stdout; logrus stays on stderr so output pipes clean.
    log := logrus.New()
    if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil { log.SetLevel(lvl) }

    symbols := splitCSV(symbolsCSV)
    if len(symbols) == 0 { log.Fatal("no symbols provided") }

    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
    httpClient.UserAgent = "pricefeed/1.0"

    var sources []source.Source
    if cfg.Spot.Enabled && cfg.Spot.Endpoint != "" {
        sources = append(sources, spot.New(spot.Config{
            Name:     cfg.Spot.Name,
            Endpoint: cfg.Spot.Endpoint,
            Timeout:  time.Duration(cfg.Spot.TimeoutSec) * time.Second,
        }, httpClient))
    }
    if cfg.Binance.Enabled {
        var s source.Source = binance.New(binance.Config{
            Endpoint:   cfg.Binance.Endpoint,
            QuoteAsset: cfg.Binance.QuoteAsset,
            Timeout:    time.Duration(cfg.Binance.TimeoutSec) * time.Second,
        }, httpClient)
        s = ratelimit.Wrap(s, cfg.Binance.MaxRequestsPerMinute, cfg.Binance.Burst)
        sources = append(sources, s)
    }
    if cfg.Coingecko.Enabled {
        opts := []coingecko.CoinGeckoAPIClientOption{
            coingecko.WithHTTPClient(httpClient.HTTP),
            coingecko.WithHeader(http.Header{"User-Agent": []string{"pricefeed/1.0"}}),
        }
        if cfg.Coingecko.Endpoint != "" {
            opts = append(opts, coingecko.WithBaseURL(cfg.Coingecko.Endpoint))
        }
        client, err := coingecko.NewCoinGeckoAPIClient(cfg.Coingecko.APIKey, opts...)
        if err != nil { log.Fatalf("coingecko client: %v", err) }
        var s source.Source = coingeckoadapter.New(coingeckoadapter.Config{
            VsCurrency: cfg.Coingecko.VsCurrency,
            Timeout:    time.Duration(cfg.Coingecko.TimeoutSec) * time.Second,
        }, client)
        s = ratelimit.Wrap(s, cfg.Coingecko.MaxRequestsPerMinute, cfg.Coingecko.Burst)
        if cfg.Coingecko.CacheTTLSeconds > 0 {
            s = cache.Wrap(s, time.Duration(cfg.Coingecko.CacheTTLSeconds)*time.Second, cfg.Coingecko.CacheMaxItems)
        }
        sources = append(sources, s)
    }
    if len(sources) == 0 {
        log.Fatal("no sources enabled; enable at least one of spot/binance/coingecko")
    }

    svc := feed.New(feed.Config{
        Resolver: chain.New(log, sources...),
        Table:    symbol.NewTable(cfg.Symbols.Aliases),
        Interval: time.Duration(cfg.Feed.PollIntervalSec) * time.Second,
        MaxDelay: time.Duration(cfg.Feed.MaxBackoffSec) * time.Second,
        Buffer:   cfg.Feed.BufferSize,
        Logger:   log,
    })
    defer svc.Close()

    if watch {
        watchUpdates(svc, symbols, time.Duration(intervalSec)*time.Second, log)
        return
    }

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)
    defer cancel()
    quotes, err := svc.FetchAll(ctx, symbols)
    if err != nil { log.Fatalf("fetch: %v", err) }

    out := struct {
        Quotes []source.Quote `json:"quotes"`
    }{Quotes: make([]source.Quote, 0, len(quotes))}
    for _, q := range quotes {
        out.Quotes = append(out.Quotes, q)
    }
    sort.Slice(out.Quotes, func(i, j int) bool { return out.Quotes[i].ID < out.Quotes[j].ID })
    b, _ := json.MarshalIndent(out, "", "  ")
    fmt.Println(string(b))
}

// watchUpdates prints one JSON line per published update until SIGINT.
func watchUpdates(svc *feed.Service, symbols []string, every time.Duration, log logrus.FieldLogger) {
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    sub, err := svc.Subscribe(symbols, every)
    if err != nil { log.Fatalf("subscribe: %v", err) }
    defer sub.Close()
    log.Infof("watching %s", sub.Key())

    for {
        select {
        case <-ctx.Done():
            return
        case u, ok := <-sub.Updates():
            if !ok { return }
            b, err := json.Marshal(u)
            if err != nil {
                log.WithError(err).Warn("encode update")
                continue
            }
            fmt.Println(string(b))
        }
    }
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

func getenv(key, def string) string { if v := os.Getenv(key); v != "" { return v }; return def }
func getenvInt(key string, def int) int {
    if v := os.Getenv(key); v != "" {
        var x int
        _, _ = fmt.Sscanf(v, "%d", &x)
        if x != 0 { return x }
    }
    return def
}
func getenvBool(key string, def bool) bool {
    if v := os.Getenv(key); v != "" {
        switch strings.ToLower(v) {
        case "1","true","yes","y": return true
        case "0","false","no","n": return false
        }
    }
    return def
}
