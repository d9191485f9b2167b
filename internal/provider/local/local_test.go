package local

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noot-app/foodfit-server/internal/provider"
	"github.com/noot-app/foodfit-server/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_EmbeddedDataset(t *testing.T) {
	a, err := New("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, provider.Local, a.Name())
	assert.Greater(t, a.Len(), 5)

	p, err := a.Fetch(context.Background(), "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, "Nutella", p.Name)
	assert.Equal(t, types.BasisPer100g, p.NutritionBasis)
	assert.Nil(t, p.ServingSize, "Nutella is curated without a serving size")
	assert.Equal(t, 56.3, *p.Nutriments.Sugars)
	assert.Equal(t, 6.3, *p.Nutriments.Proteins)
	assert.InDelta(t, 42.8, *p.Nutriments.SodiumMg, 1e-9, "sodium is derived from salt")
	assert.Equal(t, provider.Local, p.Source)
}

func TestFetch_ReturnsCopies(t *testing.T) {
	a, err := New("", testLogger())
	require.NoError(t, err)

	p, err := a.Fetch(context.Background(), "3017620422003")
	require.NoError(t, err)
	*p.Nutriments.Sugars = 0

	again, err := a.Fetch(context.Background(), "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, 56.3, *again.Nutriments.Sugars)
}

func TestFetch_NotFound(t *testing.T) {
	a, err := New("", testLogger())
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), "0000000000001")
	assert.Equal(t, provider.NotFound, provider.KindOf(err))

	// the oats are curated under their stripped UPC, not the canonical form
	_, err = a.Fetch(context.Background(), "0030000010204")
	assert.Equal(t, provider.NotFound, provider.KindOf(err))
}

func TestLookupFuzzy(t *testing.T) {
	a, err := New("", testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name      string
		canonical string
		wantName  string
	}{
		{"exact key", "3017620422003", "Nutella"},
		{"stored zero-stripped", "0030000010204", "Old Fashioned Oats"},
		{"stored without check digit", "0722252101214", "Crunchy Peanut Butter Energy Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := a.LookupFuzzy(ctx, tt.canonical)
			require.True(t, ok)
			assert.Equal(t, tt.wantName, p.Name)
		})
	}

	_, ok := a.LookupFuzzy(ctx, "0000000000001")
	assert.False(t, ok)
}

func TestLookupFuzzy_LeadingZeroIndex(t *testing.T) {
	a, err := Parse([]byte(`[{"barcode":"00000123456789","nutriments":{"sugars":1}}]`), testLogger())
	require.NoError(t, err)

	p, ok := a.LookupFuzzy(context.Background(), "0000123456789")
	require.True(t, ok)
	assert.Equal(t, "00000123456789", p.Barcode)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"null record", `[null]`},
		{"empty barcode", `[{"barcode":""}]`},
		{"non numeric barcode", `[{"barcode":"abc"}]`},
		{"duplicate", `[{"barcode":"1"},{"barcode":"1"}]`},
		{"negative nutrient", `[{"barcode":"1","nutriments":{"sugars":-1}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), testLogger())
			assert.Error(t, err)
		})
	}
}

func TestNew_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curated.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"barcode":"42","name":"Answer","nutriments":{}}]`), 0o644))

	a, err := New(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())

	p, err := a.Fetch(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, types.BasisPer100g, p.NutritionBasis, "missing basis reads as per 100g")

	_, err = New(filepath.Join(t.TempDir(), "missing.json"), testLogger())
	assert.Error(t, err)
}
