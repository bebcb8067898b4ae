package symbol

import (
    "sort"
    "strings"
)

// Table maps raw ticker text to the canonical id understood by upstream
// providers. It is populated once at startup and never mutated afterwards,
// so any number of goroutines may call Normalize concurrently without
// locking.
type Table struct {
    ids map[string]string
}

// builtin covers the tickers the feed is commonly asked for. Unknown
// tickers are not an error; they pass through cleaned (see Normalize).
var builtin = map[string]string{
    "btc":   "bitcoin",
    "eth":   "ethereum",
    "usdt":  "tether",
    "usdc":  "usd-coin",
    "bnb":   "binancecoin",
    "sol":   "solana",
    "xrp":   "ripple",
    "ada":   "cardano",
    "doge":  "dogecoin",
    "dot":   "polkadot",
    "matic": "matic-network",
    "avax":  "avalanche-2",
    "link":  "chainlink",
    "ltc":   "litecoin",
    "uni":   "uniswap",
    "atom":  "cosmos",
    "xlm":   "stellar",
    "etc":   "ethereum-classic",
    "fil":   "filecoin",
    "near":  "near",
    "trx":   "tron",
    "shib":  "shiba-inu",
    "arb":   "arbitrum",
    "op":    "optimism",
    "apt":   "aptos",
    "ton":   "the-open-network",
}

// quoteSuffixes are stripped from the tail of a ticker before lookup, so
// exchange pair spellings like "ETHUSDT" resolve the same as "ETH".
// Longest first; a strip that would leave nothing is skipped.
var quoteSuffixes = []string{"usdt", "usd"}

// NewTable builds a table from the builtin entries overlaid with extra
// aliases (ticker -> id). Extra keys are matched case-insensitively and
// win over builtin entries.
func NewTable(extra map[string]string) *Table {
    ids := make(map[string]string, len(builtin)+len(extra))
    for k, v := range builtin { ids[k] = v }
    for k, v := range extra {
        k = strings.ToLower(strings.TrimSpace(k))
        v = strings.TrimSpace(v)
        if k != "" && v != "" { ids[k] = v }
    }
    return &Table{ids: ids}
}

// Default returns a table with only the builtin entries.
func Default() *Table { return NewTable(nil) }

// Normalize derives the canonical id for a raw ticker. It lowercases,
// strips one trailing quote-currency suffix, trims trailing separators,
// and looks the result up in the table; if absent, the cleaned string
// itself is the id. Pure and total: same input, same output, no failure.
func (t *Table) Normalize(sym string) string {
    s := strings.ToLower(strings.TrimSpace(sym))
    for _, suf := range quoteSuffixes {
        trimmed := strings.TrimSuffix(s, suf)
        if trimmed != s && trimmed != "" {
            s = trimmed
            break
        }
    }
    s = strings.TrimRight(s, "-_/ ")
    if id, ok := t.ids[s]; ok {
        return id
    }
    return s
}

// NormalizeAll maps symbols through Normalize, drops empties and
// duplicates, and returns the ids sorted.
func (t *Table) NormalizeAll(symbols []string) []string {
    seen := make(map[string]struct{}, len(symbols))
    out := make([]string, 0, len(symbols))
    for _, sym := range symbols {
        id := t.Normalize(sym)
        if id == "" { continue }
        if _, dup := seen[id]; dup { continue }
        seen[id] = struct{}{}
        out = append(out, id)
    }
    sort.Strings(out)
    return out
}

// Len reports how many entries the table holds.
func (t *Table) Len() int { return len(t.ids) }
