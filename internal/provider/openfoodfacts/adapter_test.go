package openfoodfacts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noot-app/foodfit-server/internal/httputil"
	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/query"
	"github.com/noot-app/foodfit-server/internal/types"
)

const nutellaResponse = `{
  "code": "3017620422003",
  "status": 1,
  "status_verbose": "product found",
  "product": {
    "code": "3017620422003",
    "product_name": "Nutella",
    "brands": "Ferrero, Nutella",
    "categories": "Spreads, Sweet spreads",
    "ingredients_text": "Sugar, palm oil, hazelnuts 13%, skimmed milk powder 8.7%, fat-reduced cocoa 7.4%, emulsifier: lecithins (soya), vanillin",
    "allergens_tags": ["en:milk", "en:nuts", "en:soybeans"],
    "nutrition_data_per": "100g",
    "serving_quantity": "15",
    "serving_quantity_unit": "g",
    "nutriments": {
      "energy-kj_100g": 2255,
      "fat_100g": 30.9,
      "saturated-fat_100g": 10.6,
      "carbohydrates_100g": 57.5,
      "sugars_100g": 56.3,
      "proteins_100g": 6.3,
      "salt_100g": 0.107,
      "sodium_100g": 0.0428
    }
  }
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func apiAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	catalog := NewAPICatalog(server.URL, httputil.NewHTTPClient(5*time.Second), testLogger())
	return New(catalog, testLogger())
}

func TestAPI_Fetch(t *testing.T) {
	var gotPath, gotUA string
	a := apiAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(nutellaResponse))
	})

	p, err := a.Fetch(context.Background(), "3017620422003")
	require.NoError(t, err)

	assert.Equal(t, "/api/v2/product/3017620422003.json", gotPath)
	assert.Contains(t, gotUA, "foodfit-server/")

	assert.Equal(t, provider.OpenFoodFacts, a.Name())
	assert.Equal(t, "3017620422003", p.Barcode)
	assert.Equal(t, "Nutella", p.Name)
	assert.Equal(t, "Ferrero", p.Brand)
	assert.Equal(t, []string{"Spreads", "Sweet spreads"}, p.Categories)
	assert.Equal(t, []string{"milk", "nuts", "soybeans"}, p.Allergens)
	assert.Equal(t, types.BasisPer100g, p.NutritionBasis)
	assert.Equal(t, provider.OpenFoodFacts, p.Source)

	assert.InDelta(t, 2255/4.184, *p.Nutriments.EnergyKcal, 1e-9, "kcal derived from kJ")
	assert.InDelta(t, 42.8, *p.Nutriments.SodiumMg, 1e-9, "sodium grams become milligrams")
	assert.Equal(t, 0.107, *p.Nutriments.Salt)
	assert.Nil(t, p.Nutriments.Fiber, "absent nutrients stay unknown")

	require.NotNil(t, p.ServingSize)
	assert.Equal(t, 15.0, *p.ServingSize.WeightGrams)
}

func TestAPI_FetchFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   provider.Kind
	}{
		{"http 404", http.StatusNotFound, `{"status":0}`, provider.NotFound},
		{"status zero", http.StatusOK, `{"code":"1","status":0,"status_verbose":"product not found"}`, provider.NotFound},
		{"rate limited", http.StatusTooManyRequests, ``, provider.RateLimited},
		{"server error", http.StatusServiceUnavailable, ``, provider.Unreachable},
		{"bad json", http.StatusOK, `{"status":1,"product":`, provider.Malformed},
		{"no nutriments", http.StatusOK, `{"status":1,"product":{"code":"1","product_name":"Mystery","nutriments":{}}}`, provider.Malformed},
		{"negative nutriment", http.StatusOK, `{"status":1,"product":{"nutriments":{"sugars_100g":-4}}}`, provider.Malformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := apiAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			p, err := a.Fetch(context.Background(), "0000000000001")
			assert.Nil(t, p)
			require.Error(t, err)
			assert.Equal(t, tt.want, provider.KindOf(err))
		})
	}
}

func TestAPI_TransportFailureIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	a := New(NewAPICatalog(server.URL, httputil.NewHTTPClient(time.Second), testLogger()), testLogger())
	_, err := a.Fetch(context.Background(), "3017620422003")
	assert.Equal(t, provider.Unreachable, provider.KindOf(err))
}

func TestParquet_Fetch(t *testing.T) {
	engine := query.NewMockEngine(testLogger())
	a := New(NewParquetCatalog(engine), testLogger())
	ctx := context.Background()

	p, err := a.Fetch(ctx, "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, 56.3, *p.Nutriments.Sugars)
	assert.Equal(t, 539.0, *p.Nutriments.EnergyKcal)

	bar, err := a.Fetch(ctx, "1234567890128")
	require.NoError(t, err)
	assert.Equal(t, types.BasisPerServing, bar.NutritionBasis)
	assert.Equal(t, 11.0, *bar.Nutriments.Sugars)
	assert.InDelta(t, 150.0, *bar.Nutriments.SodiumMg, 1e-9)
	assert.Equal(t, 42.0, *bar.ServingSize.WeightGrams)

	_, err = a.Fetch(ctx, "0000000000000")
	assert.Equal(t, provider.NotFound, provider.KindOf(err))

	assert.NoError(t, a.HealthCheck(ctx))

	engine.SetError(errors.New("parquet unreadable"))
	_, err = a.Fetch(ctx, "3017620422003")
	assert.Equal(t, provider.Unreachable, provider.KindOf(err))
	assert.Error(t, a.HealthCheck(ctx))
}

func TestAPI_HealthCheckIsNoop(t *testing.T) {
	a := New(NewAPICatalog("http://unused", http.DefaultClient, testLogger()), testLogger())
	assert.NoError(t, a.HealthCheck(context.Background()))
}
