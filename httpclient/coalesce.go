package httpclient

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// entry is one in-flight or recently-completed GET, keyed by request hash.
type entry struct {
	createdAt time.Time
	done      chan struct{}
	env       *Envelope
	err       error
}

// coalescer deduplicates identical GET requests within CoalesceWindow: a
// caller that arrives within the window rides the first caller's request
// (in flight or just completed) instead of issuing its own.
type coalescer struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newCoalescer() *coalescer {
	return &coalescer{entries: make(map[string]*entry)}
}

// lookup returns a fresh entry's result without issuing a new request, if
// one exists. ok is false when the caller must issue its own request via
// run.
func (c *coalescer) lookup(now time.Time, hash string) (*Envelope, error, bool) {
	c.mu.Lock()
	e, ok := c.entries[hash]
	if ok && now.Sub(e.createdAt) > CoalesceWindow {
		delete(c.entries, hash)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	<-e.done
	return e.env, e.err, true
}

// run executes exec, publishing its result to any callers that arrive via
// lookup before the entry goes stale. The entry is left in the map after
// completion, so a sequential caller inside the window still rides the
// cached result instead of issuing a fresh request; it is only evicted once
// stale, by a later lookup or run for the same hash.
func (c *coalescer) run(now time.Time, hash string, exec func() (*Envelope, error)) (*Envelope, error) {
	e := &entry{createdAt: now, done: make(chan struct{})}

	c.mu.Lock()
	c.entries[hash] = e
	c.mu.Unlock()

	e.env, e.err = exec()
	close(e.done)

	return e.env, e.err
}

// hashRequest derives a stable key for method+path+params+the parts of
// Options that change the wire request, so two logically identical GETs
// coalesce regardless of call-site argument ordering.
func hashRequest(method, path string, params map[string]any, opts Options) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sortedParams := make([][2]any, 0, len(keys))
	for _, k := range keys {
		sortedParams = append(sortedParams, [2]any{k, params[k]})
	}

	headerKeys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)
	sortedHeaders := make([]string, 0, len(headerKeys))
	for _, k := range headerKeys {
		sortedHeaders = append(sortedHeaders, fmt.Sprintf("%s=%s", k, opts.Headers[k]))
	}

	shape := struct {
		Method    string
		Path      string
		Params    []([2]any)
		APIChange string
		Headers   []string
	}{
		Method:    method,
		Path:      path,
		Params:    sortedParams,
		APIChange: opts.apiChange(),
		Headers:   sortedHeaders,
	}

	raw, err := json.Marshal(shape)
	if err != nil {
		// Params containing a value json can't marshal (e.g. a channel)
		// can't sensibly coalesce; fall back to a key that never matches.
		return fmt.Sprintf("unhashable:%p", &shape)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
