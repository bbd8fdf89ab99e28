package domain

import (
	"fmt"
	"sort"
	"time"
)

// Network is the tagged enumeration of supported hydrophone archives.
type Network string

const (
	NetworkONC       Network = "onc"
	NetworkOOI       Network = "ooi"
	NetworkOrcasound Network = "orcasound"
)

// Filter holds provider-specific query keys (device, dates, extension, limits).
type Filter map[string]any

// Clone returns a shallow copy so overlays never mutate the base filter.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge returns a copy of f with every key of overlay applied on top.
func (f Filter) Merge(overlay Filter) Filter {
	out := f.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// String reads a key as a string; missing or non-string values yield "".
func (f Filter) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Require reports the first missing key in the provided list.
func (f Filter) Require(keys ...string) error {
	for _, key := range keys {
		if f.String(key) == "" {
			return fmt.Errorf("filter must contain %q key", key)
		}
	}
	return nil
}

// Keys returns the filter keys in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Window is the [Start, End] query range of one polling cycle.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts lies in (Start, End].
func (w Window) Contains(ts time.Time) bool {
	return ts.After(w.Start) && !ts.After(w.End)
}

// RemoteEntry is a file the provider currently offers.
type RemoteEntry struct {
	// Name is the local basename the entry is stored under.
	Name      string
	URL       string
	Timestamp time.Time
	// Size is the reported content length, -1 when unknown.
	Size int64
}

// Listing is what a provider returns for one window: its entries and the
// exact parameters used to obtain them.
type Listing struct {
	Entries []RemoteEntry
	Filter  Filter
}

// PendingOrder is an asynchronous data-product order waiting for delivery.
type PendingOrder struct {
	RequestID int       `json:"dpRequestId"`
	RunIDs    []int     `json:"dpRunIds"`
	Filter    Filter    `json:"filter"`
	PlacedAt  time.Time `json:"placedAt"`
	// NextIndex per run id is the next file index to download; a negative
	// index marks a finished run.
	NextIndex map[int]int `json:"nextIndex,omitempty"`
}

// CycleResult summarises one fetch cycle.
type CycleResult struct {
	Fetched []string
	Ordered bool
}
