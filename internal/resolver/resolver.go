// Package resolver turns a raw scan into a canonical product.
//
// Each request walks a fixed state machine: cache, then every provider in
// priority order for the canonical code, then one pass per alternate code,
// then a fuzzy lookup in the curated dataset. The first hit wins and is
// cached under the canonical code. Provider failures are absorbed; only
// failures of the resolver itself surface as errors.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/noot-app/foodfit-server/internal/barcode"
	"github.com/noot-app/foodfit-server/internal/cache"
	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/throttle"
	"github.com/noot-app/foodfit-server/internal/types"
)

// ErrInternal marks a failure of the resolver itself
var ErrInternal = errors.New("internal resolver error")

const (
	DefaultTimeout          = 12 * time.Second
	DefaultBatchConcurrency = 4

	denialWarnInterval = time.Minute
)

// State is a step of the resolution state machine
type State string

const (
	StateCacheLookup    State = "cache_lookup"
	StateProviderLoop   State = "provider_loop"
	StateAltBarcodeLoop State = "alt_barcode_loop"
	StateLocalFallback  State = "local_fallback"

	StateResolved State = "resolved"
	StateNotFound State = "not_found"
	StateFailed   State = "failed"
)

// Response is the outcome of one resolution. Exactly one of Product,
// NotFound and Error is set.
type Response struct {
	OK        bool           `json:"ok"`
	Barcode   string         `json:"barcode"`
	Product   *types.Product `json:"product,omitempty"`
	NotFound  bool           `json:"not_found,omitempty"`
	Error     string         `json:"error,omitempty"`
	FromCache bool           `json:"from_cache,omitempty"`
	RequestID string         `json:"request_id"`

	// Err carries the wrapped ErrInternal when OK is false
	Err error `json:"-"`
}

// Attempt is one step of the provider trace, logged at debug level
type Attempt struct {
	Provider string        `json:"provider"`
	Barcode  string        `json:"barcode"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

const (
	outcomeHit       = "hit"
	outcomeThrottled = "throttled"
)

// Options configures a Resolver. Providers are consulted in slice order.
type Options struct {
	Cache            cache.Store
	Limiter          throttle.Limiter
	Providers        []provider.Adapter
	Fallback         provider.FuzzyLookup
	Timeout          time.Duration
	Coalesce         bool
	BatchConcurrency int
	Logger           *slog.Logger
}

// Resolver owns the cache and throttle windows for the process
type Resolver struct {
	cache     cache.Store
	limiter   throttle.Limiter
	providers []provider.Adapter
	fallback  provider.FuzzyLookup
	timeout   time.Duration
	coalesce  bool
	batch     int
	log       *slog.Logger

	group   singleflight.Group
	denials map[string]*rate.Sometimes
}

// New creates a resolver
func New(opts Options) (*Resolver, error) {
	if opts.Cache == nil {
		return nil, errors.New("resolver requires a cache")
	}
	if opts.Limiter == nil {
		return nil, errors.New("resolver requires a limiter")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}

	r := &Resolver{
		cache:     opts.Cache,
		limiter:   opts.Limiter,
		providers: append([]provider.Adapter(nil), opts.Providers...),
		fallback:  opts.Fallback,
		timeout:   opts.Timeout,
		coalesce:  opts.Coalesce,
		batch:     opts.BatchConcurrency,
		log:       opts.Logger,
		denials:   make(map[string]*rate.Sometimes, len(opts.Providers)),
	}
	for _, a := range r.providers {
		if a == nil {
			return nil, errors.New("resolver provider must not be nil")
		}
		if _, dup := r.denials[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider %q", a.Name())
		}
		r.denials[a.Name()] = &rate.Sometimes{Interval: denialWarnInterval}
	}
	return r, nil
}

// Providers returns the provider names in priority order
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, a := range r.providers {
		names[i] = a.Name()
	}
	return names
}

// outcome is the shared result of one state machine run
type outcome struct {
	product   *types.Product
	fromCache bool
	state     State
}

// Resolve runs one resolution. It never panics and never returns provider errors.
func (r *Resolver) Resolve(ctx context.Context, raw string) Response {
	start := time.Now()
	resp := Response{RequestID: uuid.NewString()}

	code := barcode.Normalize(raw)
	resp.Barcode = code.Canonical
	log := r.log.With("request_id", resp.RequestID, "barcode", code.Canonical)

	if code.Empty() {
		log.Debug("Scan has no digits, nothing to resolve", "raw", raw)
		resp.OK = true
		resp.NotFound = true
		return resp
	}

	out, err := r.resolve(ctx, code, log)
	if err != nil {
		log.Error("Resolution failed", "outcome", StateFailed, "error", err, "duration", time.Since(start))
		resp.Error = err.Error()
		resp.Err = err
		return resp
	}

	resp.OK = true
	switch out.state {
	case StateResolved:
		resp.Product = out.product.Clone()
		resp.FromCache = out.fromCache
	default:
		resp.NotFound = true
	}
	log.Info("Resolution finished", "outcome", out.state, "from_cache", out.fromCache, "duration", time.Since(start))
	return resp
}

// resolve runs the state machine, sharing identical in-flight misses when coalescing
func (r *Resolver) resolve(ctx context.Context, code barcode.Code, log *slog.Logger) (outcome, error) {
	if !r.coalesce {
		return r.run(ctx, code, log)
	}
	if err := ctx.Err(); err != nil {
		return outcome{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	// The shared run outlives any single caller; adapter timeouts bound it.
	ch := r.group.DoChan(code.Canonical, func() (interface{}, error) {
		return r.run(context.WithoutCancel(ctx), code, log)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return outcome{}, res.Err
		}
		if res.Shared {
			log.Debug("Joined in-flight resolution")
		}
		return res.Val.(outcome), nil
	case <-ctx.Done():
		return outcome{}, fmt.Errorf("%w: %w", ErrInternal, ctx.Err())
	}
}

func (r *Resolver) run(ctx context.Context, code barcode.Code, log *slog.Logger) (out outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Recovered panic during resolution", "panic", rec)
			out, err = outcome{}, fmt.Errorf("%w: panic: %v", ErrInternal, rec)
		}
	}()

	var attempts []Attempt
	defer func() {
		log.Debug("Provider trace", "attempts", attempts)
	}()

	state := StateCacheLookup
	for {
		if err := ctx.Err(); err != nil {
			return outcome{}, fmt.Errorf("%w: %w", ErrInternal, err)
		}

		switch state {
		case StateCacheLookup:
			if p := r.cacheGet(ctx, code.Canonical, log); p != nil {
				return outcome{product: p, fromCache: true, state: StateResolved}, nil
			}
			state = StateProviderLoop

		case StateProviderLoop:
			p, err := r.providerPass(ctx, code.Canonical, log, &attempts)
			if err != nil {
				return outcome{}, err
			}
			if p != nil {
				return r.resolved(ctx, code.Canonical, p, log), nil
			}
			state = StateAltBarcodeLoop

		case StateAltBarcodeLoop:
			for _, alt := range code.Alternates {
				p, err := r.providerPass(ctx, alt, log, &attempts)
				if err != nil {
					return outcome{}, err
				}
				if p != nil {
					log.Debug("Resolved through alternate code", "alternate", alt, "provider", p.Source)
					return r.resolved(ctx, code.Canonical, p, log), nil
				}
			}
			state = StateLocalFallback

		case StateLocalFallback:
			if r.fallback != nil {
				if p, ok := r.fallback.LookupFuzzy(ctx, code.Canonical); ok && p != nil {
					attempts = append(attempts, Attempt{Provider: "fallback", Barcode: code.Canonical, Outcome: outcomeHit})
					return r.resolved(ctx, code.Canonical, p, log), nil
				}
			}
			return outcome{state: StateNotFound}, nil

		default:
			return outcome{}, fmt.Errorf("%w: unknown state %q", ErrInternal, state)
		}
	}
}

// resolved stamps the canonical code on a hit and caches it
func (r *Resolver) resolved(ctx context.Context, canonical string, p *types.Product, log *slog.Logger) outcome {
	p.Barcode = canonical
	if err := r.cache.Put(ctx, canonical, p); err != nil {
		log.Warn("Failed to cache product", "error", err)
	}
	return outcome{product: p, state: StateResolved}
}

func (r *Resolver) cacheGet(ctx context.Context, canonical string, log *slog.Logger) *types.Product {
	p, ok, err := r.cache.Get(ctx, canonical)
	if err != nil {
		log.Warn("Cache lookup failed, treating as miss", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return p
}

// providerPass makes at most one call per provider for code. The returned
// error is only ever an ErrInternal.
func (r *Resolver) providerPass(ctx context.Context, code string, log *slog.Logger, attempts *[]Attempt) (*types.Product, error) {
	for _, a := range r.providers {
		name := a.Name()
		if !r.limiter.TryAcquire(ctx, name) {
			r.logDenial(log, name, code)
			*attempts = append(*attempts, Attempt{Provider: name, Barcode: code, Outcome: outcomeThrottled})
			continue
		}

		start := time.Now()
		p, err := r.fetch(ctx, a, code)
		attempt := Attempt{Provider: name, Barcode: code, Duration: time.Since(start)}

		var pe *panicError
		if errors.As(err, &pe) {
			return nil, fmt.Errorf("%w: %v", ErrInternal, pe)
		}
		if err == nil {
			attempt.Outcome = outcomeHit
			*attempts = append(*attempts, attempt)
			if p.Source == "" {
				p.Source = name
			}
			return p, nil
		}

		kind := provider.KindOf(err)
		attempt.Outcome = kind.String()
		*attempts = append(*attempts, attempt)

		switch kind {
		case provider.NotFound:
		case provider.Malformed:
			log.Debug("Provider returned an unusable payload", "provider", name, "code", code, "error", err)
		default:
			log.Warn("Provider call failed, moving on", "provider", name, "code", code, "kind", kind, "error", err)
		}
	}
	return nil, nil
}

type panicError struct {
	provider string
	value    any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("provider %s panicked: %v", e.provider, e.value)
}

// fetch bounds one adapter call by the resolver timeout, even if the
// adapter ignores its context
func (r *Resolver) fetch(ctx context.Context, a provider.Adapter, code string) (*types.Product, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		p   *types.Product
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: &panicError{provider: a.Name(), value: rec}}
			}
		}()
		p, err := a.Fetch(callCtx, code)
		done <- result{p: p, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if res.p == nil {
			return nil, provider.Errorf(a.Name(), provider.Malformed, "adapter returned neither product nor error")
		}
		return res.p, nil
	case <-callCtx.Done():
		return nil, provider.Wrap(a.Name(), callCtx.Err())
	}
}

func (r *Resolver) logDenial(log *slog.Logger, name, code string) {
	warned := false
	if s, ok := r.denials[name]; ok {
		s.Do(func() {
			warned = true
			log.Warn("Provider throttled, skipping", "provider", name, "code", code)
		})
	}
	if !warned {
		log.Debug("Provider throttled, skipping", "provider", name, "code", code)
	}
}

// ResolveMany resolves every scan with bounded parallelism. Results keep input order.
func (r *Resolver) ResolveMany(ctx context.Context, raws []string) []Response {
	out := make([]Response, len(raws))

	var g errgroup.Group
	g.SetLimit(r.batch)
	for i, raw := range raws {
		g.Go(func() error {
			out[i] = r.Resolve(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck probes the cache backend and every provider that supports it
func (r *Resolver) HealthCheck(ctx context.Context) error {
	var errs []error

	if p, ok := r.cache.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}

	for _, a := range r.providers {
		hc, ok := a.(provider.HealthChecker)
		if !ok {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := hc.HealthCheck(callCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}

	return errors.Join(errs...)
}
