package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "strings"
)

type Server struct {
    Port              string `json:"port"`
    RequestTimeoutSec int    `json:"request_timeout_sec"`
}

// Feed holds the polling and fan-out tunables.
type Feed struct {
    // PollIntervalSec is the default poll interval (and base backoff delay)
    // applied when a subscriber does not ask for a specific interval.
    PollIntervalSec int `json:"poll_interval_sec"`
    // MaxBackoffSec caps the delay between polls after repeated failures.
    MaxBackoffSec int `json:"max_backoff_sec"`
    // BufferSize is the per-listener update channel capacity.
    BufferSize int `json:"buffer_size"`
}

// Spot is an optional first-priority quote endpoint (own infrastructure).
type Spot struct {
    Enabled    bool   `json:"enabled"`
    Name       string `json:"name"`
    Endpoint   string `json:"endpoint"`
    TimeoutSec int    `json:"timeout_sec"`
}

type Binance struct {
    Enabled              bool   `json:"enabled"`
    Endpoint             string `json:"endpoint"`
    QuoteAsset           string `json:"quote_asset"`
    TimeoutSec           int    `json:"timeout_sec"`
    MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
    Burst                int    `json:"burst"`
}

type Coingecko struct {
    Enabled              bool   `json:"enabled"`
    Endpoint             string `json:"endpoint"`
    APIKey               string `json:"api_key"`
    VsCurrency           string `json:"vs_currency"`
    TimeoutSec           int    `json:"timeout_sec"`
    MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
    Burst                int    `json:"burst"`
    CacheTTLSeconds      int    `json:"cache_ttl_sec"`
    CacheMaxItems        int    `json:"cache_max_items"`
}

type Symbols struct {
    // Aliases adds or overrides ticker -> canonical id entries in the
    // builtin table. Keys are matched case-insensitively.
    Aliases map[string]string `json:"aliases"`
}

type Config struct {
    Server    Server    `json:"server"`
    Feed      Feed      `json:"feed"`
    Spot      Spot      `json:"spot"`
    Binance   Binance   `json:"binance"`
    Coingecko Coingecko `json:"coingecko"`
    Symbols   Symbols   `json:"symbols"`
    LogLevel  string    `json:"log_level"`
}

func Default() Config {
    return Config{
        Server: Server{Port: "8080", RequestTimeoutSec: 15},
        Feed: Feed{
            PollIntervalSec: 5,
            MaxBackoffSec:   60,
            BufferSize:      8,
        },
        Spot: Spot{
            Enabled:    false,
            Name:       "Spot",
            TimeoutSec: 15,
        },
        Binance: Binance{
            Enabled:    true,
            Endpoint:   "https://api.binance.com/api/v3/ticker/price",
            QuoteAsset: "USDT",
            TimeoutSec: 15,
            MaxRequestsPerMinute: 0,
            Burst:                1,
        },
        Coingecko: Coingecko{
            Enabled:    true,
            Endpoint:   "https://api.coingecko.com/api/v3",
            VsCurrency: "usd",
            TimeoutSec: 15,
            MaxRequestsPerMinute: 30,
            Burst:                5,
            CacheTTLSeconds:      0,
            CacheMaxItems:        1024,
        },
        LogLevel: "info",
    }
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
    cfg := Default()
    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err == nil {
            if err := json.Unmarshal(b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse config: %w", err)
            }
        }
    }
    applyEnv(&cfg)
    return cfg, nil
}

func applyEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Server.Port = v }
    if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Server.RequestTimeoutSec = x }
    }
    if v := os.Getenv("LOG_LEVEL"); v != "" { cfg.LogLevel = v }

    if v := os.Getenv("FEED_POLL_INTERVAL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Feed.PollIntervalSec = x }
    }
    if v := os.Getenv("FEED_MAX_BACKOFF_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Feed.MaxBackoffSec = x }
    }
    if v := os.Getenv("FEED_BUFFER_SIZE"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Feed.BufferSize = x }
    }

    if v := os.Getenv("SPOT_ENABLED"); v != "" {
        switch strings.ToLower(v) {
        case "1", "true", "yes", "y": cfg.Spot.Enabled = true
        case "0", "false", "no", "n": cfg.Spot.Enabled = false
        }
    }
    if v := os.Getenv("SPOT_ENDPOINT"); v != "" { cfg.Spot.Endpoint = v }
    if v := os.Getenv("SPOT_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Spot.TimeoutSec = x }
    }

    if v := os.Getenv("BINANCE_ENABLED"); v != "" {
        switch strings.ToLower(v) {
        case "1", "true", "yes", "y": cfg.Binance.Enabled = true
        case "0", "false", "no", "n": cfg.Binance.Enabled = false
        }
    }
    if v := os.Getenv("BINANCE_ENDPOINT"); v != "" { cfg.Binance.Endpoint = v }
    if v := os.Getenv("BINANCE_QUOTE_ASSET"); v != "" { cfg.Binance.QuoteAsset = v }
    if v := os.Getenv("BINANCE_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Binance.TimeoutSec = x }
    }
    if v := os.Getenv("BINANCE_MAX_RPM"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Binance.MaxRequestsPerMinute = x }
    }
    if v := os.Getenv("BINANCE_BURST"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Binance.Burst = x }
    }

    if v := os.Getenv("COINGECKO_ENABLED"); v != "" {
        switch strings.ToLower(v) {
        case "1", "true", "yes", "y": cfg.Coingecko.Enabled = true
        case "0", "false", "no", "n": cfg.Coingecko.Enabled = false
        }
    }
    if v := os.Getenv("COINGECKO_ENDPOINT"); v != "" { cfg.Coingecko.Endpoint = v }
    if v := os.Getenv("COINGECKO_API_KEY"); v != "" { cfg.Coingecko.APIKey = v }
    if v := os.Getenv("COINGECKO_VS_CURRENCY"); v != "" { cfg.Coingecko.VsCurrency = strings.ToLower(v) }
    if v := os.Getenv("COINGECKO_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Coingecko.TimeoutSec = x }
    }
    if v := os.Getenv("COINGECKO_MAX_RPM"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Coingecko.MaxRequestsPerMinute = x }
    }
    if v := os.Getenv("COINGECKO_BURST"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Coingecko.Burst = x }
    }
    if v := os.Getenv("COINGECKO_CACHE_TTL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Coingecko.CacheTTLSeconds = x }
    }
    if v := os.Getenv("COINGECKO_CACHE_MAX_ITEMS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Coingecko.CacheMaxItems = x }
    }

    if v := os.Getenv("SYMBOL_ALIASES"); v != "" {
        // CSV of ticker=id pairs, e.g. "wbtc=wrapped-bitcoin,weth=weth"
        if cfg.Symbols.Aliases == nil { cfg.Symbols.Aliases = map[string]string{} }
        for _, pair := range splitCSV(v) {
            k, val, ok := strings.Cut(pair, "=")
            if !ok { continue }
            k, val = strings.TrimSpace(k), strings.TrimSpace(val)
            if k != "" && val != "" { cfg.Symbols.Aliases[k] = val }
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
