package main

import (
    "bufio"
    "context"
    "encoding/json"
    "errors"
    "flag"
    "net/http"
    "os"
    "strings"
    "sync"
    "time"

    "github.com/sirupsen/logrus"

    "pricefeed/internal/config"
    "pricefeed/internal/httpx"
    "pricefeed/internal/source/coingecko"
    "pricefeed/internal/symbol"
)

func main() {
    var (
        symbolsCSV  string
        symbolsFile string
        outPath     string
        cfgPath     string
        days        int
        concurrency int
        timeoutSec  int
        maxRetries  int
        rpm         int
    )
    flag.StringVar(&symbolsCSV, "symbols", "", "comma-separated tickers or coin ids")
    flag.StringVar(&symbolsFile, "symbols-file", "", "file with one ticker per line (# comments allowed)")
    flag.StringVar(&outPath, "out", "history.json", "output JSON file path")
    flag.StringVar(&cfgPath, "config", "", "path to config.json (optional)")
    flag.IntVar(&days, "days", 30, "window size in days counted back from now")
    flag.IntVar(&concurrency, "concurrency", 4, "number of parallel requests")
    flag.IntVar(&timeoutSec, "timeout", 20, "HTTP timeout seconds")
    flag.IntVar(&maxRetries, "retries", 3, "max retries on rate limits and upstream failures")
    flag.IntVar(&rpm, "rpm", 30, "max requests per minute (0 = unlimited)")
    flag.Parse()

    // Load config/env
    cfg, err := config.Load(cfgPath)
    if err != nil {
        logrus.Fatalf("config: %v", err)
    }

    table := symbol.NewTable(cfg.Symbols.Aliases)
    ids, err := readIDs(symbolsCSV, symbolsFile, table)
    if err != nil {
        logrus.Fatalf("read symbols: %v", err)
    }
    if len(ids) == 0 {
        logrus.Fatal("no symbols; pass -symbols or -symbols-file")
    }
    logrus.Infof("coins: %d, days: %d", len(ids), days)

    // Prepare CoinGecko client
    hc := httpx.New(time.Duration(timeoutSec) * time.Second)
    opts := []coingecko.CoinGeckoAPIClientOption{
        coingecko.WithHTTPClient(hc.HTTP),
        coingecko.WithHeader(http.Header{"User-Agent": []string{"pricefeed/1.0"}}),
    }
    if cfg.Coingecko.Endpoint != "" {
        opts = append(opts, coingecko.WithBaseURL(cfg.Coingecko.Endpoint))
    }
    client, err := coingecko.NewCoinGeckoAPIClient(cfg.Coingecko.APIKey, opts...)
    if err != nil {
        logrus.Fatalf("coingecko client: %v", err)
    }

    // Prepare output writer (streaming)
    outFile, err := os.Create(outPath)
    if err != nil {
        logrus.Fatalf("create out: %v", err)
    }
    defer outFile.Close()
    bw := bufio.NewWriterSize(outFile, 1<<20)
    defer bw.Flush()

    // Start JSON envelope
    _, _ = bw.WriteString("{")
    first := true
    var writeMu sync.Mutex

    // Request rate limiter by RPM, if provided
    var tokenCh <-chan time.Time
    if rpm > 0 {
        t := time.NewTicker(time.Minute / time.Duration(rpm))
        defer t.Stop()
        tokenCh = t.C
    }

    fetchChart := func(ctx context.Context, id string) (*coingecko.MarketChart, error) {
        attempt := 0
        for {
            if tokenCh != nil {
                <-tokenCh // gate by RPM
            }
            chart, err := client.GetMarketChart(ctx, coingecko.MarketChartParams{
                ID:         id,
                VsCurrency: cfg.Coingecko.VsCurrency,
                Days:       days,
            })
            if err == nil {
                return chart, nil
            }
            if transient(err) && attempt < maxRetries {
                back := time.Duration(250*(1<<attempt)) * time.Millisecond
                time.Sleep(back)
                attempt++
                continue
            }
            return nil, err
        }
    }

    // Worker pool
    jobs := make(chan string, concurrency*2)
    wg := sync.WaitGroup{}
    worker := func() {
        defer wg.Done()
        for id := range jobs {
            ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
            chart, err := fetchChart(ctx, id)
            cancel()
            if err != nil {
                logrus.WithError(err).Warnf("skip %s", id)
                continue
            }
            if len(chart.Prices) == 0 {
                logrus.Warnf("skip %s: empty series", id)
                continue
            }
            series, err := json.Marshal(chart.Prices)
            if err != nil {
                logrus.WithError(err).Warnf("skip %s", id)
                continue
            }
            key, _ := json.Marshal(id)
            writeMu.Lock()
            if !first { _, _ = bw.WriteString(",") } else { first = false }
            _, _ = bw.Write(key)
            _, _ = bw.WriteString(":")
            _, _ = bw.Write(series)
            writeMu.Unlock()
        }
    }

    for i := 0; i < concurrency; i++ {
        wg.Add(1)
        go worker()
    }

    for _, id := range ids {
        jobs <- id
    }
    close(jobs)
    wg.Wait()

    // Close JSON envelope
    _, _ = bw.WriteString("}")
    if err := bw.Flush(); err != nil {
        logrus.Fatalf("flush: %v", err)
    }
    logrus.Infof("done: wrote %s", outPath)
}

// transient reports whether a fetch is worth retrying. Rate limits and
// upstream hiccups are; rejections the API will repeat are not.
func transient(err error) bool {
    switch {
    case errors.Is(err, coingecko.ErrRateLimited):
        return true
    case errors.Is(err, coingecko.ErrNotFound),
        errors.Is(err, coingecko.ErrBadRequest),
        errors.Is(err, coingecko.ErrUnauthorized),
        errors.Is(err, coingecko.ErrDecode):
        return false
    default:
        return true
    }
}

// readIDs merges the flag and file symbol lists and normalizes them to
// deduped canonical ids.
func readIDs(csv, path string, table *symbol.Table) ([]string, error) {
    var raw []string
    raw = append(raw, splitCSV(csv)...)
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil { return nil, err }
        for _, line := range strings.Split(string(b), "\n") {
            line = strings.TrimSpace(line)
            if line == "" || strings.HasPrefix(line, "#") { continue }
            raw = append(raw, line)
        }
    }
    return table.NormalizeAll(raw), nil
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
