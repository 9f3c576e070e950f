package history

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/23skdu/annbench/internal/evaluate"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRows(t *testing.T, path string, rows ...evaluate.QueryRow) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, parquet.WriteFile(path, rows))
}

func TestRuns(t *testing.T) {
	dir := t.TempDir()

	writeRows(t, filepath.Join(dir, "x-2-euclidean_results_20260101_000000.parquet"),
		evaluate.QueryRow{RunID: "a", Dataset: "x-2-euclidean", Mode: "exact", Query: 0, Recall: 1, ANNSeconds: 0.001, ExactSeconds: 0.01, StartedUnixMs: 1000},
		evaluate.QueryRow{RunID: "a", Dataset: "x-2-euclidean", Mode: "exact", Query: 1, Recall: 0.5, ANNSeconds: 0.003, ExactSeconds: 0.03, StartedUnixMs: 1000},
	)
	writeRows(t, filepath.Join(dir, "x-2-euclidean_500_results_20260102_000000.parquet"),
		evaluate.QueryRow{RunID: "b", Dataset: "x-2-euclidean", Records: 500, Mode: "groundtruth", Query: 0, Recall: 0.25, ANNSeconds: 0.002, ExactSeconds: 0.002, StartedUnixMs: 2000},
	)
	// Another dataset sharing the prefix.
	writeRows(t, filepath.Join(dir, "x-2-euclidean_v2_results_20260103_000000.parquet"),
		evaluate.QueryRow{RunID: "c", Dataset: "x-2-euclidean_v2", Query: 0, Recall: 1, StartedUnixMs: 3000},
	)

	h := New(zerolog.Nop(), dir)
	runs, err := h.Runs(context.Background(), "x-2-euclidean")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "a", runs[0].RunID)
	assert.Equal(t, int64(2), runs[0].Queries)
	assert.InDelta(t, 0.75, runs[0].MeanRecall, 1e-12)
	assert.InDelta(t, 0.002, runs[0].MeanANN, 1e-12)
	assert.InDelta(t, 10, runs[0].Speedup(), 1e-9)
	assert.Equal(t, int64(1000), runs[0].StartedAt.UnixMilli())

	assert.Equal(t, "b", runs[1].RunID)
	assert.Equal(t, int64(500), runs[1].Records)
	assert.Equal(t, "groundtruth", runs[1].Mode)

	var out bytes.Buffer
	require.NoError(t, Render(&out, runs))
	assert.Contains(t, out.String(), "MEAN RECALL")
	assert.Contains(t, out.String(), "0.7500")
	assert.Contains(t, out.String(), "10.00x")
}

func TestRuns_NoFiles(t *testing.T) {
	runs, err := New(zerolog.Nop(), filepath.Join(t.TempDir(), "missing")).Runs(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFileList_Quotes(t *testing.T) {
	assert.Equal(t, "['/a/b.parquet', '/it''s.parquet']", fileList([]string{"/a/b.parquet", "/it's.parquet"}))
}

func TestRunSpeedup_ZeroANN(t *testing.T) {
	assert.Zero(t, Run{MeanExact: 1}.Speedup())
}
