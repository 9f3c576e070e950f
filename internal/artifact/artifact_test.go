package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
}

func TestRunNames(t *testing.T) {
	tests := []struct {
		name    string
		run     Run
		asterix string
		prefix  string
		display string
	}{
		{
			name:    "full dataset",
			run:     Run{Dataset: "fashion-mnist-784-euclidean"},
			asterix: "fashion_mnist_784_euclidean",
			prefix:  "fashion-mnist-784-euclidean",
			display: "fashion-mnist-784-euclidean",
		},
		{
			name:    "subsampled",
			run:     Run{Dataset: "glove-25-angular", Records: 20000},
			asterix: "glove_25_angular_20000",
			prefix:  "glove-25-angular_20000",
			display: "glove-25-angular (subdataset: 20000 records)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.asterix, tt.run.AsterixName())
			assert.Equal(t, tt.prefix, tt.run.ReportPrefix())
			assert.Equal(t, tt.display, tt.run.DisplayName())
		})
	}
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/bench")

	assert.Equal(t, "/bench/raw/x.hdf5", l.RawContainer("x").Path)
	assert.Equal(t, "/bench/datasets/x_train.jsonl", l.TrainStream("x").Path)
	assert.Equal(t, "/bench/datasets/x_train_500.jsonl", l.SubsampleStream("x", 500).Path)
	assert.Equal(t, 500, l.SubsampleStream("x", 500).Records)
	assert.Equal(t, "/bench/tests/x_test.jsonl", l.TestStream("x").Path)
	assert.Equal(t, "/bench/neighbors/x_neighbors.jsonl", l.NeighborsStream("x").Path)

	assert.Equal(t, KindTrainStream, l.LoadStream(Run{Dataset: "x"}).Kind)
	assert.Equal(t, KindSubsampleStream, l.LoadStream(Run{Dataset: "x", Records: 10}).Kind)

	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "/bench/output/x_10_results_20260304_050607", l.ReportBase(Run{Dataset: "x", Records: 10}, ts))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "raw-container", KindRawContainer.String())
	assert.Equal(t, "subsample-stream", KindSubsampleStream.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestArtifactExists(t *testing.T) {
	l := NewLayout(t.TempDir())
	a := l.TrainStream("x")

	ok, err := a.Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	touch(t, a.Path)
	ok, err = a.Exists()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsSubsampleName(t *testing.T) {
	assert.True(t, IsSubsampleName("x", "x_train_500.jsonl"))
	assert.False(t, IsSubsampleName("x", "x_train.jsonl"))
	assert.False(t, IsSubsampleName("x", "x_train_.jsonl"))
	assert.False(t, IsSubsampleName("x", "x_train_abc.jsonl"))
	assert.False(t, IsSubsampleName("x", "xy_train_500.jsonl"))
	assert.False(t, IsSubsampleName("x", "x_train_500.jsonl.tmp"))
}

func TestClean(t *testing.T) {
	base := t.TempDir()
	l := NewLayout(base)

	raw := l.RawContainer("x").Path
	train := l.TrainStream("x").Path
	sub := l.SubsampleStream("x", 500).Path
	other := l.TrainStream("x-other").Path
	otherSub := l.SubsampleStream("xy", 500).Path
	for _, p := range []string{raw, train, sub, other, otherSub} {
		touch(t, p)
	}

	report, err := l.Clean("x")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{raw, train, sub}, report.Removed)
	assert.ElementsMatch(t, []string{l.TestStream("x").Path, l.NeighborsStream("x").Path}, report.Absent)

	for _, p := range []string{raw, train, sub} {
		assert.NoFileExists(t, p)
	}
	assert.FileExists(t, other)
	assert.FileExists(t, otherSub)

	// Second invocation removes nothing.
	report, err = l.Clean("x")
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
	assert.Len(t, report.Absent, 4)
}

func TestClean_NoDirectories(t *testing.T) {
	report, err := NewLayout(filepath.Join(t.TempDir(), "missing")).Clean("x")
	require.NoError(t, err)
	assert.Empty(t, report.Removed)
}

func TestWriter_CommitPublishes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets", "x_train.jsonl")

	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.WriteString("{\"idx\":0}\n")
	require.NoError(t, err)
	assert.NoFileExists(t, path)

	require.NoError(t, w.Commit())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"idx\":0}\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	w.Abort() // no-op after commit
	assert.FileExists(t, path)
	assert.Error(t, w.Commit())
}

func TestWriter_AbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x_train.jsonl")

	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.WriteString("partial")
	require.NoError(t, err)
	w.Abort()

	assert.NoFileExists(t, path)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
