// Package usda adapts the USDA FoodData Central branded food search.
package usda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noot-app/foodfit-server/internal/barcode"
	"github.com/noot-app/foodfit-server/internal/httputil"
	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/types"
)

// FoodData Central nutrient ids. Branded search values are per 100 g.
const (
	nutrientEnergy        = 1008 // kcal
	nutrientEnergyAtwater = 2047 // kcal, used when 1008 is missing
	nutrientProtein       = 1003
	nutrientFat           = 1004
	nutrientSaturatedFat  = 1258
	nutrientCarbohydrate  = 1005
	nutrientSugars        = 2000
	nutrientFiber         = 1079
	nutrientSodium        = 1093 // mg
)

const searchPageSize = 5

// Client is the government database provider
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

// New creates a FoodData Central adapter
func New(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		log:     logger,
	}
}

type searchResponse struct {
	TotalHits int    `json:"totalHits"`
	Foods     []food `json:"foods"`
}

type food struct {
	FdcID           int            `json:"fdcId"`
	Description     string         `json:"description"`
	GtinUpc         string         `json:"gtinUpc"`
	BrandOwner      string         `json:"brandOwner"`
	BrandName       string         `json:"brandName"`
	Ingredients     string         `json:"ingredients"`
	FoodCategory    string         `json:"foodCategory"`
	ServingSize     float64        `json:"servingSize"`
	ServingSizeUnit string         `json:"servingSizeUnit"`
	FoodNutrients   []foodNutrient `json:"foodNutrients"`
}

type foodNutrient struct {
	NutrientID int      `json:"nutrientId"`
	UnitName   string   `json:"unitName"`
	Value      *float64 `json:"value"`
}

// Name implements provider.Adapter
func (c *Client) Name() string {
	return provider.USDA
}

// Fetch searches branded foods for the barcode and maps the first food whose
// GTIN matches it, ignoring leading zeros
func (c *Client) Fetch(ctx context.Context, code string) (*types.Product, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("query", code)
	q.Set("dataType", "Branded")
	q.Set("pageSize", fmt.Sprint(searchPageSize))
	q.Set("api_key", c.apiKey)

	req, err := httputil.NewRequest(ctx, c.baseURL+"/foods/search?"+q.Encode())
	if err != nil {
		return nil, provider.Wrap(provider.USDA, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, provider.Wrap(provider.USDA, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := provider.KindForStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusForbidden {
			// a rejected API key is an outage for us, not a bad payload
			kind = provider.Unreachable
		}
		return nil, provider.Errorf(provider.USDA, kind, "unexpected status %d", resp.StatusCode)
	}

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, provider.Wrap(provider.USDA, err)
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, provider.Errorf(provider.USDA, provider.Malformed, "failed to decode search response: %w", err)
	}

	for _, f := range result.Foods {
		if !barcode.Equivalent(f.GtinUpc, code) {
			continue
		}
		p, err := mapFood(f)
		if err != nil {
			return nil, err
		}
		p.Barcode = code
		c.log.Debug("USDA match", "barcode", code, "fdc_id", f.FdcID, "duration", time.Since(start))
		return p, nil
	}

	c.log.Debug("USDA has no matching GTIN", "barcode", code, "hits", result.TotalHits, "duration", time.Since(start))
	return nil, provider.NotFoundError(provider.USDA)
}

func mapFood(f food) (*types.Product, error) {
	values := make(map[int]float64, len(f.FoodNutrients))
	for _, n := range f.FoodNutrients {
		if n.Value == nil {
			continue
		}
		if _, seen := values[n.NutrientID]; !seen {
			values[n.NutrientID] = *n.Value
		}
	}

	pick := func(id int) *float64 {
		if v, ok := values[id]; ok {
			return types.Float(v)
		}
		return nil
	}

	n := types.Nutriments{
		EnergyKcal:    pick(nutrientEnergy),
		Fat:           pick(nutrientFat),
		SaturatedFat:  pick(nutrientSaturatedFat),
		Carbohydrates: pick(nutrientCarbohydrate),
		Sugars:        pick(nutrientSugars),
		Fiber:         pick(nutrientFiber),
		Proteins:      pick(nutrientProtein),
		SodiumMg:      pick(nutrientSodium),
	}
	if n.EnergyKcal == nil {
		n.EnergyKcal = pick(nutrientEnergyAtwater)
	}
	n = n.WithSaltSodium()

	if n.Empty() {
		return nil, provider.Errorf(provider.USDA, provider.Malformed, "food %d has no usable nutrients", f.FdcID)
	}
	if n.Invalid() {
		return nil, provider.Errorf(provider.USDA, provider.Malformed, "food %d has invalid nutrient values", f.FdcID)
	}

	p := &types.Product{
		Name:            strings.TrimSpace(f.Description),
		Brand:           firstNonEmpty(f.BrandName, f.BrandOwner),
		IngredientsText: strings.TrimSpace(f.Ingredients),
		Nutriments:      n,
		NutritionBasis:  types.BasisPer100g,
		Source:          provider.USDA,
	}
	if f.FoodCategory != "" {
		p.Categories = []string{f.FoodCategory}
	}

	if f.ServingSize > 0 {
		size := &types.ServingSize{Amount: f.ServingSize, Unit: strings.ToLower(f.ServingSizeUnit)}
		switch strings.ToLower(f.ServingSizeUnit) {
		case "g", "grm", "ml", "mlt":
			size.WeightGrams = types.Float(f.ServingSize)
		}
		p.ServingSize = size
	}

	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
