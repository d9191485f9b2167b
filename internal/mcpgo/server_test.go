package mcpgo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noot-app/foodfit-server/internal/auth"
	"github.com/noot-app/foodfit-server/internal/cache"
	"github.com/noot-app/foodfit-server/internal/config"
	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/provider/providertest"
	"github.com/noot-app/foodfit-server/internal/resolver"
	"github.com/noot-app/foodfit-server/internal/scoring"
	"github.com/noot-app/foodfit-server/internal/throttle"
	"github.com/noot-app/foodfit-server/internal/types"
)

const nutellaCode = "3017620422003"

// fakeResolver only backs the health check tests
type fakeResolver struct {
	mu     sync.Mutex
	err    error
	checks int
}

func (f *fakeResolver) Resolve(context.Context, string) resolver.Response {
	return resolver.Response{OK: true, NotFound: true}
}

func (f *fakeResolver) ResolveMany(ctx context.Context, raws []string) []resolver.Response {
	out := make([]resolver.Response, len(raws))
	for i, raw := range raws {
		out[i] = f.Resolve(ctx, raw)
	}
	return out
}

func (f *fakeResolver) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.err
}

func (f *fakeResolver) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func nutella() *types.Product {
	return &types.Product{
		Name:            "Nutella",
		Brand:           "Ferrero",
		IngredientsText: "Sugar, palm oil, hazelnuts 13%, skimmed milk powder 8.7%, fat-reduced cocoa 7.4%, emulsifier: lecithins (soya), vanillin",
		NutritionBasis:  types.BasisPer100g,
		ServingSize:     &types.ServingSize{Amount: 15, Unit: "g", WeightGrams: types.Float(15)},
		Nutriments: types.Nutriments{
			EnergyKcal:    types.Float(539),
			Fat:           types.Float(30.9),
			SaturatedFat:  types.Float(10.6),
			Carbohydrates: types.Float(57.5),
			Sugars:        types.Float(56.3),
			Fiber:         types.Float(0),
			Proteins:      types.Float(6.3),
			SodiumMg:      types.Float(42.8),
		},
	}
}

type fixture struct {
	local  *providertest.Adapter
	server *Server
}

func newFixture(t *testing.T, detailed bool) *fixture {
	t.Helper()
	logger := config.NewTestLogger(io.Discard, "debug")

	f := &fixture{local: providertest.New(provider.Local, nil)}
	f.local.WithProduct(nutellaCode, nutella())

	res, err := resolver.New(resolver.Options{
		Cache:     cache.NewMemory(time.Hour, logger),
		Limiter:   throttle.NewWindow(throttle.Config{Default: throttle.Rule{Max: 100, Interval: time.Minute}}),
		Providers: []provider.Adapter{f.local},
		Timeout:   time.Second,
		Logger:    logger,
	})
	require.NoError(t, err)

	rules, err := scoring.DefaultRules()
	require.NoError(t, err)
	engine, err := scoring.NewEngine(scoring.DefaultConfig(), rules)
	require.NoError(t, err)

	f.server = NewServer(res, engine, auth.NewBearerTokenAuth("test-token"), detailed, logger)
	return f
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestServer_checkHealthWithCache(t *testing.T) {
	logger := config.NewTestLogger(io.Discard, "debug")
	newServer := func() (*Server, *fakeResolver) {
		res := &fakeResolver{}
		return NewServer(res, nil, auth.NewBearerTokenAuth("test-token"), false, logger), res
	}

	t.Run("first call performs health check", func(t *testing.T) {
		server, res := newServer()

		err := server.checkHealthWithCache(context.Background())
		assert.NoError(t, err)
		assert.False(t, server.lastHealthCheck.IsZero())
		assert.NoError(t, server.lastHealthError)
		assert.Equal(t, 1, res.checks)
	})

	t.Run("subsequent calls within 10 seconds use cache", func(t *testing.T) {
		server, res := newServer()
		ctx := context.Background()

		require.NoError(t, server.checkHealthWithCache(ctx))
		firstCheckTime := server.lastHealthCheck

		require.NoError(t, server.checkHealthWithCache(ctx))
		assert.Equal(t, firstCheckTime, server.lastHealthCheck)
		assert.Equal(t, 1, res.checks)
	})

	t.Run("caches error results", func(t *testing.T) {
		server, res := newServer()
		testError := errors.New("redis connection refused")
		res.SetError(testError)
		ctx := context.Background()

		err1 := server.checkHealthWithCache(ctx)
		assert.Equal(t, testError, err1)

		res.SetError(nil)

		err2 := server.checkHealthWithCache(ctx)
		assert.Equal(t, testError, err2)
	})

	t.Run("cache expires after 10 seconds", func(t *testing.T) {
		server, res := newServer()
		ctx := context.Background()

		require.NoError(t, server.checkHealthWithCache(ctx))
		server.lastHealthCheck = time.Now().Add(-11 * time.Second)

		require.NoError(t, server.checkHealthWithCache(ctx))
		assert.True(t, time.Since(server.lastHealthCheck) < time.Second)
		assert.Equal(t, 2, res.checks)
	})

	t.Run("concurrent calls handle race conditions safely", func(t *testing.T) {
		server, res := newServer()
		server.lastHealthCheck = time.Now().Add(-11 * time.Second)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, server.checkHealthWithCache(context.Background()))
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, res.checks)
	})
}

func TestHandleResolveProduct(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		result, err := f.server.handleResolveProduct(ctx, callRequest("resolve_product", map[string]any{"barcode": "3017620422003"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		resp, ok := result.StructuredContent.(resolver.Response)
		require.True(t, ok)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.Product)
		assert.Equal(t, "Nutella", resp.Product.Name)
		assert.Contains(t, resultText(t, result), `"barcode": "3017620422003"`)
	})

	t.Run("not found is a successful result", func(t *testing.T) {
		result, err := f.server.handleResolveProduct(ctx, callRequest("resolve_product", map[string]any{"barcode": "0000000000017"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		resp := result.StructuredContent.(resolver.Response)
		assert.True(t, resp.OK)
		assert.True(t, resp.NotFound)
		assert.Contains(t, resultText(t, result), `"not_found": true`)
	})

	t.Run("missing barcode", func(t *testing.T) {
		result, err := f.server.handleResolveProduct(ctx, callRequest("resolve_product", map[string]any{}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "barcode")
	})
}

func TestHandleResolveProduct_InternalErrors(t *testing.T) {
	tests := []struct {
		name     string
		detailed bool
		contains string
		excludes string
	}{
		{"production hides detail", false, genericResolveError, "panic"},
		{"development shows detail", true, "panic", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.detailed)
			f.local.Panicking()

			result, err := f.server.handleResolveProduct(context.Background(), callRequest("resolve_product", map[string]any{"barcode": nutellaCode}))
			require.NoError(t, err)
			assert.True(t, result.IsError)

			text := resultText(t, result)
			assert.Contains(t, text, tt.contains)
			if tt.excludes != "" {
				assert.NotContains(t, text, tt.excludes)
			}
		})
	}
}

func TestHandleResolveProducts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	t.Run("keeps input order", func(t *testing.T) {
		result, err := f.server.handleResolveProducts(ctx, callRequest("resolve_products", map[string]any{
			"barcodes": []any{"0000000000017", nutellaCode, ""},
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)

		batch, ok := result.StructuredContent.(ResolveProductsResponse)
		require.True(t, ok)
		require.Equal(t, 3, batch.Count)
		assert.True(t, batch.Results[0].NotFound)
		require.NotNil(t, batch.Results[1].Product)
		assert.Equal(t, "Nutella", batch.Results[1].Product.Name)
		assert.True(t, batch.Results[2].NotFound)
	})

	t.Run("rejects oversized batches", func(t *testing.T) {
		codes := make([]any, MaxBatchSize+1)
		for i := range codes {
			codes[i] = nutellaCode
		}

		result, err := f.server.handleResolveProducts(ctx, callRequest("resolve_products", map[string]any{"barcodes": codes}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "at most 25")
	})

	t.Run("rejects an empty list", func(t *testing.T) {
		result, err := f.server.handleResolveProducts(ctx, callRequest("resolve_products", map[string]any{"barcodes": []any{}}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("failed elements carry the generic message", func(t *testing.T) {
		broken := newFixture(t, false)
		broken.local.Panicking()

		result, err := broken.server.handleResolveProducts(ctx, callRequest("resolve_products", map[string]any{"barcodes": []any{nutellaCode}}))
		require.NoError(t, err)
		require.False(t, result.IsError)

		batch := result.StructuredContent.(ResolveProductsResponse)
		require.Len(t, batch.Results, 1)
		assert.False(t, batch.Results[0].OK)
		assert.Equal(t, genericResolveError, batch.Results[0].Error)
	})
}

func TestHandleScoreProduct(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	t.Run("scores a resolved product", func(t *testing.T) {
		result, err := f.server.handleScoreProduct(ctx, callRequest("score_product", map[string]any{
			"barcode": nutellaCode,
			"profile": map[string]any{
				"health_goals": []any{"low_sugar"},
				"diet_type":    "vegan",
			},
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, resultText(t, result))

		out, ok := result.StructuredContent.(ScoreProductResponse)
		require.True(t, ok)
		assert.True(t, out.Resolution.OK)
		require.NotNil(t, out.Score)
		assert.Equal(t, scoring.Version, out.Score.ScoreVersion)
		assert.Equal(t, 0.0, out.Score.Components.DietSuitability, "milk powder is not vegan")
		assert.NotEmpty(t, out.Score.Notes)
	})

	t.Run("profile is optional", func(t *testing.T) {
		result, err := f.server.handleScoreProduct(ctx, callRequest("score_product", map[string]any{"barcode": nutellaCode}))
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.NotNil(t, result.StructuredContent.(ScoreProductResponse).Score)
	})

	t.Run("not found has no score", func(t *testing.T) {
		result, err := f.server.handleScoreProduct(ctx, callRequest("score_product", map[string]any{"barcode": "0000000000017"}))
		require.NoError(t, err)
		require.False(t, result.IsError)

		out := result.StructuredContent.(ScoreProductResponse)
		assert.True(t, out.Resolution.NotFound)
		assert.Nil(t, out.Score)
		assert.NotContains(t, resultText(t, result), `"score"`)
	})

	t.Run("invalid profile", func(t *testing.T) {
		result, err := f.server.handleScoreProduct(ctx, callRequest("score_product", map[string]any{
			"barcode": nutellaCode,
			"profile": map[string]any{"diet_type": "fruitarian"},
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "fruitarian")
	})
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    types.UserProfile
		wantErr bool
	}{
		{
			name: "nil uses defaults",
			raw:  nil,
			want: types.UserProfile{DietStrictness: 1, HealthStrictness: 1},
		},
		{
			name: "explicit strictness",
			raw:  map[string]any{"body_goal": "lose", "diet_strictness": 0.5},
			want: types.UserProfile{BodyGoal: types.BodyGoalLose, DietStrictness: 0.5, HealthStrictness: 1},
		},
		{name: "not an object", raw: "vegan", wantErr: true},
		{name: "unknown goal", raw: map[string]any{"health_goals": []any{"immortality"}}, wantErr: true},
		{name: "negative strictness", raw: map[string]any{"health_strictness": -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProfile(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler(t *testing.T) {
	f := newFixture(t, false)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	t.Run("health needs no auth", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), `"healthy"`)
	})

	t.Run("health rejects other methods", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/health", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("mcp requires the bearer token", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("mcp initialize with token", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer test-token")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(data), "FoodFit MCP Server")
	})
}

func TestHandler_UnhealthyHidesDetail(t *testing.T) {
	res := &fakeResolver{}
	res.SetError(errors.New("dial tcp 10.0.0.7:6379: connection refused"))
	server := NewServer(res, nil, auth.NewBearerTokenAuth("t"), false, config.NewTestLogger(io.Discard, "error"))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
	assert.NotContains(t, w.Body.String(), "10.0.0.7")
}

func TestServeHTTP_StopsOnCancel(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.server.ServeHTTP(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeHTTP did not return after cancel")
	}
}
