package risk

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

const (
	minScore = 0
	maxScore = 100
)

// Clamp maps a raw model output onto the integer range [0, 100],
// rounding half away from zero. NaN scores as zero.
func Clamp(raw float64) int {
	if math.IsNaN(raw) {
		return minScore
	}
	return int(math.Round(math.Min(math.Max(raw, minScore), maxScore)))
}

// Score evaluates model for every feature vector. Records are sorted by
// identity. A model whose arity is not five fails the whole batch.
func Score(ctx context.Context, features map[types.AssetIdentity]types.FeatureVector, model Model) ([]types.RiskRecord, error) {
	if model == nil {
		return nil, types.NewBatchError(types.CategoryScoringArity, fmt.Errorf("no scoring model"))
	}
	if arity := model.Arity(); arity != types.FeatureCount {
		return nil, types.NewBatchError(types.CategoryScoringArity,
			fmt.Errorf("model accepts %d features, want %d", arity, types.FeatureCount))
	}

	ids := make([]types.AssetIdentity, 0, len(features))
	for id := range features {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	records := make([]types.RiskRecord, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fv := features[id]
			records[i] = types.RiskRecord{
				Identity:  id,
				RiskScore: Clamp(model.Predict(fv.Slice())),
				Details:   fv,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debugw("Assets scored", "assets", len(records), "mean_risk", Summarize(records))
	return records, nil
}

// Summarize returns the mean risk score rounded to two decimals, or zero
// for an empty set.
func Summarize(records []types.RiskRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	total := 0
	for _, r := range records {
		total += r.RiskScore
	}
	return math.Round(float64(total)/float64(len(records))*100) / 100
}
