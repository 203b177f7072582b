package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

// Model is an opaque scoring function over a fixed-shape feature vector.
type Model interface {
	Arity() int
	Predict(x []float64) float64
}

// ScoreFunc adapts a plain function to a five-feature Model.
type ScoreFunc func(x []float64) float64

func (f ScoreFunc) Arity() int                  { return types.FeatureCount }
func (f ScoreFunc) Predict(x []float64) float64 { return f(x) }

// LinearModel computes intercept + Σ weights[i]*x[i].
type LinearModel struct {
	Intercept float64   `yaml:"intercept" json:"intercept"`
	Weights   []float64 `yaml:"weights" json:"weights"`
}

func (m *LinearModel) Arity() int { return len(m.Weights) }

func (m *LinearModel) Predict(x []float64) float64 {
	sum := m.Intercept
	for i, w := range m.Weights {
		if i < len(x) {
			sum += w * x[i]
		}
	}
	return sum
}

// DefaultLinearModel is used when no model artifact is configured.
// Weights follow the feature order: open ports, high-risk ports, weak
// TLS, sensitive leaks, subdomain count.
func DefaultLinearModel() *LinearModel {
	return &LinearModel{
		Intercept: 0,
		Weights:   []float64{2, 15, 20, 10, 1},
	}
}

// LoadLinearModel reads a YAML (or JSON) linear model artifact.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var m LinearModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if len(m.Weights) != types.FeatureCount {
		return nil, types.NewBatchError(types.CategoryScoringArity,
			fmt.Errorf("model %s has %d weights, want %d", path, len(m.Weights), types.FeatureCount))
	}
	return &m, nil
}
