package risk

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

type fixedModel struct {
	arity int
	score float64
}

func (m fixedModel) Arity() int                { return m.arity }
func (m fixedModel) Predict([]float64) float64 { return m.score }

func TestClamp(t *testing.T) {
	tests := []struct {
		raw  float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{0.4, 0},
		{0.5, 1},
		{42.49, 42},
		{42.5, 43},
		{99.6, 100},
		{250, 100},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp(tt.raw), "raw=%v", tt.raw)
	}
}

func TestScoreClampsEveryRecord(t *testing.T) {
	features := map[types.AssetIdentity]types.FeatureVector{
		"b.example.com": {OpenPorts: 1, SubdomainCount: 1},
		"a.example.com": {OpenPorts: 3, SubdomainCount: 1},
	}

	for _, raw := range []float64{-1000, 17.5, 1e9, math.NaN()} {
		records, err := Score(context.Background(), features, fixedModel{arity: 5, score: raw})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, types.AssetIdentity("a.example.com"), records[0].Identity)
		assert.Equal(t, types.AssetIdentity("b.example.com"), records[1].Identity)
		for _, r := range records {
			assert.GreaterOrEqual(t, r.RiskScore, 0)
			assert.LessOrEqual(t, r.RiskScore, 100)
		}
	}
}

func TestScoreUsesFeatureOrder(t *testing.T) {
	features := map[types.AssetIdentity]types.FeatureVector{
		"a.example.com": {OpenPorts: 1, HighRiskOpenPorts: 2, WeakTLS: 3, SensitiveLeaks: 4, SubdomainCount: 5},
	}
	var seen []float64
	model := ScoreFunc(func(x []float64) float64 {
		seen = x
		return 10
	})

	records, err := Score(context.Background(), features, model)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 10, records[0].RiskScore)
	assert.Equal(t, features["a.example.com"], records[0].Details)
}

func TestScoreArityMismatch(t *testing.T) {
	features := map[types.AssetIdentity]types.FeatureVector{"a.example.com": {}}

	_, err := Score(context.Background(), features, fixedModel{arity: 4})
	require.Error(t, err)
	category, ok := types.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryScoringArity, category)

	_, err = Score(context.Background(), features, nil)
	category, _ = types.CategoryOf(err)
	assert.Equal(t, types.CategoryScoringArity, category)
}

func TestScoreCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	features := map[types.AssetIdentity]types.FeatureVector{"a.example.com": {}}
	_, err := Score(ctx, features, fixedModel{arity: 5})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLinearModel(t *testing.T) {
	m := DefaultLinearModel()
	assert.Equal(t, types.FeatureCount, m.Arity())
	// 3 open ports, 1 high risk, weak TLS, 2 leaks, 1 subdomain
	assert.InDelta(t, 6+15+20+20+1, m.Predict([]float64{3, 1, 1, 2, 1}), 1e-9)
}

func TestLoadLinearModel(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(good, []byte("intercept: 5\nweights: [1, 2, 3, 4, 0.5]\n"), 0o600))
	m, err := LoadLinearModel(good)
	require.NoError(t, err)
	assert.InDelta(t, 5+1+2+3+4+0.5, m.Predict([]float64{1, 1, 1, 1, 1}), 1e-9)

	short := filepath.Join(dir, "short.yaml")
	require.NoError(t, os.WriteFile(short, []byte("weights: [1, 2]\n"), 0o600))
	_, err = LoadLinearModel(short)
	category, ok := types.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryScoringArity, category)

	_, err = LoadLinearModel(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, 0.0, Summarize(nil))
	records := []types.RiskRecord{{RiskScore: 10}, {RiskScore: 20}, {RiskScore: 25}}
	assert.InDelta(t, 18.33, Summarize(records), 1e-9)
}
