package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTokensFoldsAccents(t *testing.T) {
	require.Equal(t, []string{"DIZIMO", "JOAO", "SILVA"}, normalizeTokens("Dízimo  João-Silva!"))
	require.Empty(t, normalizeTokens("  --  "))
}

func TestDescriptionSimilarity(t *testing.T) {
	s := NewScorer(DefaultConfig())

	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "Oferta culto", "OFERTA CULTO", 1, 1},
		{"noise ignored", "PIX JOAO", "Dízimo João Silva", 0.8, 0.9},
		{"typo tolerated", "MERCADO CENTRAL", "MERCADO CENTRL", 0.85, 1},
		{"unrelated", "ALUGUEL SALAO", "Dízimo João Silva", 0, 0.01},
		{"empty side", "", "Dízimo", 0, 0},
		{"only noise falls back to edit ratio", "PIX", "PIX", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.DescriptionSimilarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestAmountExactness(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 1.0, NewScorer(cfg).AmountExactness(0))
	require.Equal(t, 0.0, NewScorer(cfg).AmountExactness(1))

	cfg.AmountToleranceCents = 100
	s := NewScorer(cfg)
	require.InDelta(t, 0.75, s.AmountExactness(50), 1e-9)
	require.InDelta(t, 0.5, s.AmountExactness(-100), 1e-9)
	require.Equal(t, 0.0, s.AmountExactness(101))
}

func TestDateProximityHalvesEveryHalfLife(t *testing.T) {
	s := NewScorer(DefaultConfig())
	require.Equal(t, 1.0, s.DateProximity(0))
	require.InDelta(t, 0.5, s.DateProximity(3), 1e-9)
	require.InDelta(t, 0.25, s.DateProximity(-6), 1e-9)
}

func TestGroupedShapesScoreBelowOneToOne(t *testing.T) {
	s := NewScorer(DefaultConfig())
	f := Features{AmountDeltaCents: 0, DateDeltaDays: 0, DescriptionSimilarity: 1}

	one := s.Score(ShapeOneToOne, f, 1)
	batch := s.Score(ShapeBatch, f, 2)
	split := s.Score(ShapeSplit, f, 3)
	require.InDelta(t, 1.0, one, 1e-9)
	require.Less(t, batch, one)
	require.Less(t, split, batch)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Weights.Amount = 0.9
	require.ErrorContains(t, cfg.Validate(), "sum to 1")

	cfg = DefaultConfig()
	cfg.MaxGroupSize = 1
	require.ErrorContains(t, cfg.Validate(), "max group size")
}
