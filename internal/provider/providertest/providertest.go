// Package providertest provides scripted adapters for resolver tests
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/types"
)

// FallbackName is the provider name recorded for fuzzy lookups
const FallbackName = "fallback"

// Call is one recorded adapter invocation
type Call struct {
	Provider string
	Barcode  string
}

// Recorder collects calls across several adapters, in order
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) record(name, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Provider: name, Barcode: code})
}

// Calls returns a copy of the recorded calls
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many calls went to the named provider
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Provider == name {
			n++
		}
	}
	return n
}

// Reset forgets every call
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Adapter answers from scripted products and errors. Unscripted codes are NotFound.
type Adapter struct {
	name string
	rec  *Recorder

	mu       sync.Mutex
	products map[string]*types.Product
	errs     map[string]error
	failAll  error
	delay    time.Duration
	panics   bool
}

var (
	_ provider.Adapter       = (*Adapter)(nil)
	_ provider.HealthChecker = (*Adapter)(nil)
)

// New creates a scripted adapter. rec may be shared between adapters.
func New(name string, rec *Recorder) *Adapter {
	if rec == nil {
		rec = &Recorder{}
	}
	return &Adapter{
		name:     name,
		rec:      rec,
		products: make(map[string]*types.Product),
		errs:     make(map[string]error),
	}
}

// WithProduct scripts a hit for code
func (a *Adapter) WithProduct(code string, p *types.Product) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.products[code] = p.Clone()
	return a
}

// WithError scripts a failure of the given kind for code
func (a *Adapter) WithError(code string, kind provider.Kind) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[code] = &provider.Error{Provider: a.name, Kind: kind}
	return a
}

// FailAll makes every fetch and health check return err
func (a *Adapter) FailAll(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failAll = err
	return a
}

// WithDelay makes every fetch block for d, or until its context is done
func (a *Adapter) WithDelay(d time.Duration) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
	return a
}

// Panicking makes every fetch panic
func (a *Adapter) Panicking() *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panics = true
	return a
}

// Name implements provider.Adapter
func (a *Adapter) Name() string {
	return a.name
}

// Fetch implements provider.Adapter
func (a *Adapter) Fetch(ctx context.Context, code string) (*types.Product, error) {
	a.rec.record(a.name, code)

	a.mu.Lock()
	delay, panics, failAll := a.delay, a.panics, a.failAll
	p, hit := a.products[code]
	scripted := a.errs[code]
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if panics {
		panic("scripted adapter panic")
	}
	if failAll != nil {
		return nil, failAll
	}
	if scripted != nil {
		return nil, scripted
	}
	if hit {
		return p.Clone(), nil
	}
	return nil, provider.NotFoundError(a.name)
}

// Calls returns how many fetches this adapter served
func (a *Adapter) Calls() int {
	return a.rec.Count(a.name)
}

// HealthCheck returns the FailAll error, if any
func (a *Adapter) HealthCheck(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failAll
}

// Fallback is a scripted provider.FuzzyLookup keyed by canonical code
type Fallback struct {
	rec *Recorder

	mu       sync.Mutex
	products map[string]*types.Product
}

var _ provider.FuzzyLookup = (*Fallback)(nil)

// NewFallback creates an empty fuzzy lookup
func NewFallback(rec *Recorder) *Fallback {
	if rec == nil {
		rec = &Recorder{}
	}
	return &Fallback{rec: rec, products: make(map[string]*types.Product)}
}

// WithProduct scripts a fuzzy hit for a canonical code
func (f *Fallback) WithProduct(canonical string, p *types.Product) *Fallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[canonical] = p.Clone()
	return f
}

// LookupFuzzy implements provider.FuzzyLookup
func (f *Fallback) LookupFuzzy(_ context.Context, canonical string) (*types.Product, bool) {
	f.rec.record(FallbackName, canonical)

	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[canonical]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}
