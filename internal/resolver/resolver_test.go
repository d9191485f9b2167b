package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noot-app/foodfit-server/internal/cache"
	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/provider/providertest"
	"github.com/noot-app/foodfit-server/internal/throttle"
	"github.com/noot-app/foodfit-server/internal/types"
)

const nutella = "3017620422003"

type fixture struct {
	rec      *providertest.Recorder
	local    *providertest.Adapter
	usda     *providertest.Adapter
	off      *providertest.Adapter
	fallback *providertest.Fallback
	cache    *cache.Memory
	limiter  *throttle.Window
	res      *Resolver
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	f := &fixture{rec: &providertest.Recorder{}}
	f.local = providertest.New(provider.Local, f.rec)
	f.usda = providertest.New(provider.USDA, f.rec)
	f.off = providertest.New(provider.OpenFoodFacts, f.rec)
	f.fallback = providertest.NewFallback(f.rec)
	f.cache = cache.NewMemory(48*time.Hour, testLogger())
	f.limiter = throttle.NewWindow(throttle.Config{Default: throttle.Rule{Max: 1000, Interval: time.Minute}})

	opts := Options{
		Cache:     f.cache,
		Limiter:   f.limiter,
		Providers: []provider.Adapter{f.local, f.usda, f.off},
		Fallback:  f.fallback,
		Timeout:   time.Second,
		Logger:    testLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	res, err := New(opts)
	require.NoError(t, err)
	f.res = res
	return f
}

func product(name string) *types.Product {
	return &types.Product{
		Name:           name,
		Nutriments:     types.Nutriments{Sugars: types.Float(56.3), Proteins: types.Float(6.3)},
		NutritionBasis: types.BasisPer100g,
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no cache", Options{Limiter: throttle.NewWindow(throttle.Config{})}},
		{"no limiter", Options{Cache: cache.NewMemory(time.Hour, testLogger())}},
		{"duplicate provider", Options{
			Cache:     cache.NewMemory(time.Hour, testLogger()),
			Limiter:   throttle.NewWindow(throttle.Config{}),
			Providers: []provider.Adapter{providertest.New("a", nil), providertest.New("a", nil)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestResolve_SecondCallIsServedFromCache(t *testing.T) {
	f := newFixture(t, nil)
	f.local.WithProduct(nutella, product("Nutella"))
	ctx := context.Background()

	first := f.res.Resolve(ctx, nutella)
	require.True(t, first.OK)
	require.NotNil(t, first.Product)
	assert.False(t, first.FromCache)
	assert.NotEmpty(t, first.RequestID)

	callsAfterFirst := len(f.rec.Calls())

	second := f.res.Resolve(ctx, nutella)
	require.True(t, second.OK)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Product, second.Product)
	assert.Equal(t, callsAfterFirst, len(f.rec.Calls()), "cache hit must not call providers")
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestResolve_ReturnedProductIsACopy(t *testing.T) {
	f := newFixture(t, nil)
	f.local.WithProduct(nutella, product("Nutella"))
	ctx := context.Background()

	first := f.res.Resolve(ctx, nutella)
	first.Product.Name = "changed"

	second := f.res.Resolve(ctx, nutella)
	assert.Equal(t, "Nutella", second.Product.Name)
}

func TestResolve_ProvidersInPriorityOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.usda.WithError(nutella, provider.Unreachable)
	f.off.WithProduct(nutella, product("Nutella"))

	resp := f.res.Resolve(context.Background(), nutella)
	require.True(t, resp.OK)
	require.NotNil(t, resp.Product)
	assert.Equal(t, provider.OpenFoodFacts, resp.Product.Source)

	assert.Equal(t, []providertest.Call{
		{Provider: provider.Local, Barcode: nutella},
		{Provider: provider.USDA, Barcode: nutella},
		{Provider: provider.OpenFoodFacts, Barcode: nutella},
	}, f.rec.Calls())
}

func TestResolve_FirstHitStopsTheLoop(t *testing.T) {
	f := newFixture(t, nil)
	f.local.WithProduct(nutella, product("Nutella"))
	f.off.WithProduct(nutella, product("Other"))

	resp := f.res.Resolve(context.Background(), nutella)
	require.NotNil(t, resp.Product)
	assert.Equal(t, "Nutella", resp.Product.Name)
	assert.Equal(t, 0, f.usda.Calls())
	assert.Equal(t, 0, f.off.Calls())
}

func TestResolve_FailuresMoveToNextProvider(t *testing.T) {
	kinds := []provider.Kind{provider.NotFound, provider.Malformed, provider.RateLimited, provider.Unreachable}

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			f := newFixture(t, nil)
			f.local.WithError(nutella, kind)
			f.usda.WithProduct(nutella, product("Nutella"))

			resp := f.res.Resolve(context.Background(), nutella)
			require.True(t, resp.OK)
			require.NotNil(t, resp.Product)
			assert.Equal(t, 1, f.local.Calls(), "a failed provider is not retried")
			assert.Equal(t, 1, f.usda.Calls())
		})
	}
}

func TestResolve_AlternateKeepsOriginalBarcode(t *testing.T) {
	f := newFixture(t, nil)
	// canonical 0012345678905, first alternate 12345678905
	f.local.WithProduct("12345678905", product("Stripped key"))

	resp := f.res.Resolve(context.Background(), "012345678905")
	require.True(t, resp.OK)
	require.NotNil(t, resp.Product)
	assert.Equal(t, "0012345678905", resp.Barcode)
	assert.Equal(t, "0012345678905", resp.Product.Barcode)

	calls := f.rec.Calls()
	require.Len(t, calls, 4)
	for _, c := range calls[:3] {
		assert.Equal(t, "0012345678905", c.Barcode, "every provider sees the canonical code first")
	}
	assert.Equal(t, providertest.Call{Provider: provider.Local, Barcode: "12345678905"}, calls[3])

	cached, ok, err := f.cache.Get(context.Background(), "0012345678905")
	require.NoError(t, err)
	require.True(t, ok, "alternate hits are cached under the canonical code")
	assert.Equal(t, "Stripped key", cached.Name)
}

func TestResolve_LocalFallback(t *testing.T) {
	f := newFixture(t, nil)
	f.fallback.WithProduct(nutella, product("Fuzzy"))

	resp := f.res.Resolve(context.Background(), nutella)
	require.True(t, resp.OK)
	require.NotNil(t, resp.Product)
	assert.Equal(t, nutella, resp.Product.Barcode)

	calls := f.rec.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, providertest.FallbackName, calls[len(calls)-1].Provider, "fallback runs after every provider pass")
}

func TestResolve_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.res.Resolve(context.Background(), "012345678905")
	assert.True(t, resp.OK)
	assert.True(t, resp.NotFound)
	assert.Nil(t, resp.Product)
	assert.Empty(t, resp.Error)
	assert.NoError(t, resp.Err)

	// canonical plus two alternates, three providers each, then the fallback
	assert.Len(t, f.rec.Calls(), 3*3+1)
	assert.Equal(t, 1, f.rec.Count(providertest.FallbackName))
}

func TestResolve_EmptyScanMakesNoCalls(t *testing.T) {
	f := newFixture(t, nil)

	for _, raw := range []string{"", "abc", " - "} {
		resp := f.res.Resolve(context.Background(), raw)
		assert.True(t, resp.OK)
		assert.True(t, resp.NotFound)
		assert.Empty(t, resp.Barcode)
	}
	assert.Empty(t, f.rec.Calls())
}

func TestResolve_ThrottledProviderIsSkipped(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Limiter = throttle.NewWindow(throttle.Config{
			Default: throttle.Rule{Max: 100, Interval: time.Minute},
			Keys:    map[string]throttle.Rule{provider.USDA: {Max: 0, Interval: time.Minute}},
		})
	})
	f.usda.WithProduct(nutella, product("Government"))
	f.off.WithProduct(nutella, product("Crowd"))

	resp := f.res.Resolve(context.Background(), nutella)
	require.NotNil(t, resp.Product)
	assert.Equal(t, "Crowd", resp.Product.Name)
	assert.Equal(t, 0, f.usda.Calls())
}

func TestResolve_WindowExhaustionSkipsProvider(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Limiter = throttle.NewWindow(throttle.Config{
			Default: throttle.Rule{Max: 100, Interval: time.Minute},
			Keys:    map[string]throttle.Rule{provider.Local: {Max: 1, Interval: time.Minute}},
		})
	})
	f.local.WithProduct(nutella, product("Local"))
	f.local.WithProduct("5449000000996", product("Local cola"))
	f.off.WithProduct("5449000000996", product("Crowd cola"))

	first := f.res.Resolve(context.Background(), nutella)
	require.NotNil(t, first.Product)

	second := f.res.Resolve(context.Background(), "5449000000996")
	require.NotNil(t, second.Product)
	assert.Equal(t, "Crowd cola", second.Product.Name)
	assert.Equal(t, 1, f.local.Calls())
}

func TestResolve_TimeoutMovesToNextProvider(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Timeout = 20 * time.Millisecond
	})
	f.usda.WithDelay(time.Second).WithProduct(nutella, product("Slow"))
	f.off.WithProduct(nutella, product("Fast"))

	start := time.Now()
	resp := f.res.Resolve(context.Background(), nutella)
	require.NotNil(t, resp.Product)
	assert.Equal(t, "Fast", resp.Product.Name)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type contextIgnoringAdapter struct{}

func (contextIgnoringAdapter) Name() string { return "stubborn" }

func (contextIgnoringAdapter) Fetch(context.Context, string) (*types.Product, error) {
	time.Sleep(300 * time.Millisecond)
	return product("Too late"), nil
}

func TestResolve_TimeoutBoundsAdaptersThatIgnoreContext(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Timeout = 20 * time.Millisecond
		o.Providers = []provider.Adapter{contextIgnoringAdapter{}}
		o.Fallback = nil
	})

	start := time.Now()
	resp := f.res.Resolve(context.Background(), "96385074")
	assert.True(t, resp.NotFound)
	// canonical plus two alternates
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

type nilAdapter struct{}

func (nilAdapter) Name() string { return "nil" }

func (nilAdapter) Fetch(context.Context, string) (*types.Product, error) { return nil, nil }

func TestResolve_NilProductIsTreatedAsMalformed(t *testing.T) {
	f := newFixture(t, nil)
	f.off.WithProduct(nutella, product("Nutella"))
	f.res.providers = append([]provider.Adapter{nilAdapter{}}, f.res.providers...)

	resp := f.res.Resolve(context.Background(), nutella)
	require.True(t, resp.OK)
	require.NotNil(t, resp.Product)
}

func TestResolve_PanicIsInternalError(t *testing.T) {
	f := newFixture(t, nil)
	f.local.Panicking()
	f.usda.WithProduct(nutella, product("Nutella"))

	resp := f.res.Resolve(context.Background(), nutella)
	assert.False(t, resp.OK)
	assert.Nil(t, resp.Product)
	assert.False(t, resp.NotFound)
	assert.NotEmpty(t, resp.Error)
	assert.ErrorIs(t, resp.Err, ErrInternal)
	assert.Equal(t, 0, f.usda.Calls())
}

func TestResolve_CancelledContextIsInternalError(t *testing.T) {
	for _, coalesce := range []bool{false, true} {
		t.Run(fmt.Sprintf("coalesce=%v", coalesce), func(t *testing.T) {
			f := newFixture(t, func(o *Options) { o.Coalesce = coalesce })
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			resp := f.res.Resolve(ctx, nutella)
			assert.False(t, resp.OK)
			assert.ErrorIs(t, resp.Err, ErrInternal)
		})
	}
}

type brokenStore struct {
	puts int
}

func (s *brokenStore) Get(context.Context, string) (*types.Product, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (s *brokenStore) Put(context.Context, string, *types.Product) error {
	s.puts++
	return errors.New("connection refused")
}

func TestResolve_CacheFailuresDoNotFailResolution(t *testing.T) {
	store := &brokenStore{}
	f := newFixture(t, func(o *Options) { o.Cache = store })
	f.local.WithProduct(nutella, product("Nutella"))

	resp := f.res.Resolve(context.Background(), nutella)
	require.True(t, resp.OK)
	require.NotNil(t, resp.Product)
	assert.Equal(t, 1, store.puts)
}

func TestResolve_CoalescesIdenticalMisses(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Coalesce = true })
	f.local.WithDelay(200 * time.Millisecond).WithProduct(nutella, product("Nutella"))

	const callers = 10
	responses := make([]Response, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			responses[i] = f.res.Resolve(context.Background(), nutella)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.local.Calls())
	for _, resp := range responses {
		require.True(t, resp.OK)
		require.NotNil(t, resp.Product)
		assert.Equal(t, "Nutella", resp.Product.Name)
	}
	assert.NotSame(t, responses[0].Product, responses[1].Product, "each caller gets its own copy")
}

func TestResolveMany(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.BatchConcurrency = 2 })
	f.local.WithProduct(nutella, product("Nutella"))
	f.off.WithProduct("5449000000996", product("Cola"))

	raws := []string{nutella, "nope", "5449000000996", "0000000000017"}
	got := f.res.ResolveMany(context.Background(), raws)
	require.Len(t, got, len(raws))

	assert.Equal(t, "Nutella", got[0].Product.Name)
	assert.True(t, got[1].NotFound)
	assert.Equal(t, "Cola", got[2].Product.Name)
	assert.True(t, got[3].NotFound)

	broken := newFixture(t, nil)
	broken.local.Panicking()
	failing := broken.res.ResolveMany(context.Background(), []string{nutella, "abc"})
	assert.False(t, failing[0].OK, "one failure does not cancel the batch")
	assert.True(t, failing[1].NotFound)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.res.HealthCheck(context.Background()))

	f.off.FailAll(errors.New("parquet unreadable"))
	err := f.res.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), provider.OpenFoodFacts)
	assert.Contains(t, err.Error(), "parquet unreadable")
}

func TestProviders(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, []string{provider.Local, provider.USDA, provider.OpenFoodFacts}, f.res.Providers())
}
