package openfoodfacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noot-app/foodfit-server/internal/httputil"
	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/query"
	"github.com/noot-app/foodfit-server/internal/types"
)

// Catalog is a source of raw Open Food Facts records.
// LookupBarcode returns (nil, nil) when the code is unknown.
type Catalog interface {
	LookupBarcode(ctx context.Context, code string) (*types.OFFProduct, error)
}

var apiFields = strings.Join([]string{
	"code", "product_name", "product_name_en", "generic_name", "brands",
	"categories", "categories_tags", "ingredients_text", "allergens_tags",
	"nutriments", "nutrition_data_per", "serving_quantity",
	"serving_quantity_unit", "serving_size",
}, ",")

// APICatalog reads from the public Open Food Facts API v2
type APICatalog struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewAPICatalog creates an API-backed catalog
func NewAPICatalog(baseURL string, httpClient *http.Client, logger *slog.Logger) *APICatalog {
	return &APICatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     logger,
	}
}

type productResponse struct {
	Code    string            `json:"code"`
	Status  interface{}       `json:"status"`
	Product *types.OFFProduct `json:"product"`
}

// found accepts both the numeric and string forms of status
func (r productResponse) found() bool {
	switch s := r.Status.(type) {
	case float64:
		return s == 1
	case string:
		return s == "1" || s == "success"
	default:
		return r.Product != nil
	}
}

// LookupBarcode fetches /api/v2/product/<code>.json
func (c *APICatalog) LookupBarcode(ctx context.Context, code string) (*types.OFFProduct, error) {
	start := time.Now()

	endpoint := fmt.Sprintf("%s/api/v2/product/%s.json?fields=%s", c.baseURL, url.PathEscape(code), url.QueryEscape(apiFields))
	req, err := httputil.NewRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug("Open Food Facts has no product", "barcode", code, "duration", time.Since(start))
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.Errorf(provider.OpenFoodFacts, provider.KindForStatus(resp.StatusCode), "unexpected status %d", resp.StatusCode)
	}

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	var result productResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, provider.Errorf(provider.OpenFoodFacts, provider.Malformed, "failed to decode product response: %w", err)
	}

	if !result.found() || result.Product == nil {
		c.log.Debug("Open Food Facts has no product", "barcode", code, "duration", time.Since(start))
		return nil, nil
	}

	if result.Product.Code == "" {
		result.Product.Code = result.Code
	}
	c.log.Debug("Open Food Facts product fetched", "barcode", code, "duration", time.Since(start))
	return result.Product, nil
}

// ParquetCatalog reads from the local parquet snapshot through DuckDB
type ParquetCatalog struct {
	engine query.QueryEngine
}

// NewParquetCatalog wraps a query engine
func NewParquetCatalog(engine query.QueryEngine) *ParquetCatalog {
	return &ParquetCatalog{engine: engine}
}

// LookupBarcode queries the snapshot for an exact code
func (c *ParquetCatalog) LookupBarcode(ctx context.Context, code string) (*types.OFFProduct, error) {
	return c.engine.SearchByBarcode(ctx, code)
}

// HealthCheck verifies the snapshot is readable
func (c *ParquetCatalog) HealthCheck(ctx context.Context) error {
	return c.engine.TestConnection(ctx)
}
