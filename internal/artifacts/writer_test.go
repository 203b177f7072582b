package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

func fixedWriter(dir string) *Writer {
	w := NewWriter(dir)
	w.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) }
	return w
}

func TestPath(t *testing.T) {
	w := NewWriter("data")
	ts := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	assert.Equal(t, filepath.Join("data", "example.com_risk_scores_20260504_030201.json"),
		w.Path("example.com", types.ArtifactRisks, ts))
	assert.Equal(t, filepath.Join("data", "run_ports_20260504_030201.json"), w.Path("", "ports", ts))
	assert.Equal(t, filepath.Join("data", "a_b_ports_20260504_030201.json"), w.Path("a/b", "ports", ts))
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := fixedWriter(dir)

	report := &types.RunReport{
		Summary: types.RunSummary{Domain: "example.com"},
		Risks:   []types.RiskRecord{{Identity: "a.example.com", RiskScore: 12}},
	}
	paths, err := w.WriteReport(report)
	require.NoError(t, err)
	assert.Len(t, paths, 6)

	data, err := os.ReadFile(filepath.Join(dir, "example.com_risk_scores_20260504_030201.json"))
	require.NoError(t, err)
	var risks []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &risks))
	require.Len(t, risks, 1)
	assert.Equal(t, "a.example.com", risks[0]["subdomain"])
	assert.EqualValues(t, 12, risks[0]["risk_score"])
}
