package feed

import (
    "sort"
    "strings"
    "time"
)

// Key identifies one polling unit: a deduplicated, sorted canonical id set
// plus the poll interval. Subscriptions that reduce to the same key share
// one scheduler.
type Key struct {
    ids      []string
    interval time.Duration
}

// NewKey builds a key from canonical ids. Empties are dropped, duplicates
// collapse and order does not matter, so {"eth","btc","eth"} and
// {"btc","eth"} produce the same key.
func NewKey(ids []string, interval time.Duration) Key {
    seen := make(map[string]struct{}, len(ids))
    uniq := make([]string, 0, len(ids))
    for _, id := range ids {
        if id == "" { continue }
        if _, dup := seen[id]; dup { continue }
        seen[id] = struct{}{}
        uniq = append(uniq, id)
    }
    sort.Strings(uniq)
    return Key{ids: uniq, interval: interval}
}

// IDs returns a copy of the id set.
func (k Key) IDs() []string {
    out := make([]string, len(k.ids))
    copy(out, k.ids)
    return out
}

func (k Key) Interval() time.Duration { return k.interval }

func (k Key) Empty() bool { return len(k.ids) == 0 }

// String is the canonical text form, e.g. "bitcoin,ethereum@5s". The hub
// and the registry key their maps on it.
func (k Key) String() string {
    return strings.Join(k.ids, ",") + "@" + k.interval.String()
}
