package evaluate

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/23skdu/annbench/internal/artifact"
	"github.com/23skdu/annbench/internal/asterix"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/limiter"
	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSearcher replays scripted results in call order.
type stubSearcher struct {
	ann   []asterix.QueryResult
	exact []asterix.QueryResult
	// failExactAt makes the n-th exact call (0-based) fail; -1 disables.
	failExactAt int

	annCalls, exactCalls int
}

func (s *stubSearcher) ANN(_ context.Context, _ []float64, _ int) (asterix.QueryResult, error) {
	r := s.ann[s.annCalls]
	s.annCalls++
	return r, nil
}

func (s *stubSearcher) Exact(_ context.Context, _ []float64, _ int) (asterix.QueryResult, error) {
	if s.exactCalls == s.failExactAt {
		s.exactCalls++
		return asterix.QueryResult{}, bencherrors.NewServiceError("exact", "boom")
	}
	r := s.exact[s.exactCalls]
	s.exactCalls++
	return r, nil
}

func (s *stubSearcher) Dataset() string { return "x_2_euclidean" }

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

type fixture struct {
	dir       string
	queries   string
	neighbors string
	base      string
}

func newFixture(t *testing.T, queries int) fixture {
	t.Helper()
	dir := t.TempDir()
	l := artifact.NewLayout(dir)
	f := fixture{
		dir:       dir,
		queries:   l.TestStream("x-2-euclidean").Path,
		neighbors: l.NeighborsStream("x-2-euclidean").Path,
		base:      filepath.Join(l.OutputDir(), "x-2-euclidean_results_20260101_000000"),
	}
	var lines []string
	for i := 0; i < queries; i++ {
		lines = append(lines, fmt.Sprintf(`{"idx":%d,"embedding":[%d.5,1]}`, i, i))
	}
	writeFile(t, f.queries, lines...)
	return f
}

func TestRecall(t *testing.T) {
	tests := []struct {
		name      string
		approx    []int64
		reference []int64
		want      float64
	}{
		{"scenario", []int64{1, 2, 3}, []int64{2, 3, 4}, 2.0 / 3.0},
		{"perfect", []int64{3, 2, 1}, []int64{1, 2, 3}, 1},
		{"disjoint", []int64{7, 8}, []int64{1, 2}, 0},
		{"empty reference", []int64{1, 2}, nil, 0},
		{"empty both", nil, nil, 0},
		{"empty approx", nil, []int64{1}, 0},
		{"duplicate approx ids count once", []int64{1, 1, 1}, []int64{1, 2}, 0.5},
		{"duplicate reference ids", []int64{1}, []int64{1, 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Recall(tt.approx, tt.reference), 1e-12)
		})
	}
}

func TestRecall_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	randIDs := func() []int64 {
		ids := make([]int64, rng.Intn(20))
		for i := range ids {
			ids[i] = int64(rng.Intn(30))
		}
		return ids
	}

	for i := 0; i < 500; i++ {
		approx, ref := randIDs(), randIDs()
		r := Recall(approx, ref)
		if len(ref) == 0 {
			assert.Zero(t, r)
			continue
		}
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
	}
}

func TestAccumulator(t *testing.T) {
	var a Accumulator
	assert.Equal(t, Means{}, a.Means())
	assert.Zero(t, a.Speedup())

	a.Add(2.0/3.0, 0.001, 0.010)
	a.Add(1, 0.003, 0.030)
	m := a.Means()
	assert.Equal(t, 2, a.Processed)
	assert.InDelta(t, (2.0/3.0+1)/2, m.Recall, 1e-12)
	assert.InDelta(t, 0.002, m.ANNSeconds, 1e-15)
	assert.InDelta(t, 0.020, m.ExactSeconds, 1e-15)
	assert.InDelta(t, 10, a.Speedup(), 1e-9)

	zeroANN := Accumulator{Processed: 1, ExactSeconds: 1}
	assert.Zero(t, zeroANN.Speedup())
}

func TestLoadGroundTruth_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "n.jsonl")
	writeFile(t, path,
		`{"idx":0,"neighbors":[5,4,3,2,1]}`,
		`{"idx":1,"neighbors":[9]}`,
		`{"idx":2,"neighbors":[1,2,3]}`,
	)

	got, err := LoadGroundTruth(path, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{5, 4, 3}, {9}}, got)
}

func TestLoaders_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadQueries(filepath.Join(dir, "missing.jsonl"), 1)
	assert.Equal(t, bencherrors.ExitPrecondition, bencherrors.ExitCode(err))

	bad := filepath.Join(dir, "bad.jsonl")
	writeFile(t, bad, `{"idx":0,"embedding":[1]}`, `{not json`)
	_, err = LoadQueries(bad, 0)
	assert.Equal(t, bencherrors.ExitDecode, bencherrors.ExitCode(err))

	// The malformed line is past the limit.
	q, err := LoadQueries(bad, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}}, q)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeExact, m)

	m, err = ParseMode("groundtruth")
	require.NoError(t, err)
	assert.Equal(t, ModeGroundTruth, m)

	_, err = ParseMode("fuzzy")
	assert.Equal(t, bencherrors.ExitUsage, bencherrors.ExitCode(err))
}

func TestEvaluator_TwoQueryScenario(t *testing.T) {
	f := newFixture(t, 2)
	s := &stubSearcher{
		ann: []asterix.QueryResult{
			{IDs: []int64{1, 2, 3}, ElapsedSeconds: 0.001},
			{IDs: []int64{5}, ElapsedSeconds: 0.003},
		},
		exact: []asterix.QueryResult{
			{IDs: []int64{2, 3, 4}, ElapsedSeconds: 0.010},
			{IDs: []int64{5}, ElapsedSeconds: 0.030},
		},
		failExactAt: -1,
	}

	var console strings.Builder
	e := NewEvaluator(zerolog.Nop(), s, &console, Options{TopK: 100, ProgressEvery: 1, Gatherer: prometheus.DefaultGatherer})
	sum, err := e.Run(context.Background(), Request{
		RunID:       "run-1",
		Run:         artifact.Run{Dataset: "x-2-euclidean"},
		Queries:     2,
		QueriesPath: f.queries,
		ReportBase:  f.base,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Evaluated)
	assert.InDelta(t, (2.0/3.0+1)/2, sum.MeanRecall, 1e-12)
	assert.InDelta(t, 10, sum.Speedup, 1e-9)
	assert.False(t, sum.QueryShortfall)

	text, err := os.ReadFile(sum.TextPath)
	require.NoError(t, err)
	transcript := string(text)
	assert.True(t, strings.HasPrefix(console.String(), transcript), "console carries the transcript")
	assert.Contains(t, console.String(), "Results saved to: "+sum.TextPath)

	assert.Contains(t, transcript, "Dataset:            x-2-euclidean")
	assert.Contains(t, transcript, "Asterix dataset:    x_2_euclidean")
	assert.Contains(t, transcript, "Query 0: Recall@100 = 0.6667 | ANN: 0.001000s | Exact: 0.010000s")
	assert.Contains(t, transcript, "Query 1: Recall@100 = 1.0000 | ANN: 0.003000s | Exact: 0.030000s")
	assert.Contains(t, transcript, "Processed 2/2 queries. Mean Recall@100 = 0.8333")
	assert.Contains(t, transcript, "RESULTS SUMMARY")
	assert.Contains(t, transcript, "Mean Recall@100:        0.8333")
	assert.Contains(t, transcript, "Speedup (Exact/ANN):      10.00x")

	rows, err := parquet.ReadFile[QueryRow](sum.ParquetPath)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "run-1", rows[0].RunID)
	assert.Equal(t, "exact", rows[0].Mode)
	assert.InDelta(t, 2.0/3.0, rows[0].Recall, 1e-12)
	assert.Equal(t, int64(1), rows[1].Query)

	prom, err := os.ReadFile(sum.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "annbench_queries_evaluated_total")
}

func TestEvaluator_ProgressEveryNthQuery(t *testing.T) {
	f := newFixture(t, 3)
	s := &stubSearcher{
		ann:         []asterix.QueryResult{{IDs: []int64{1}}, {IDs: []int64{2}}, {IDs: []int64{3}}},
		exact:       []asterix.QueryResult{{IDs: []int64{1}}, {IDs: []int64{9}}, {IDs: []int64{3}}},
		failExactAt: -1,
	}

	var console strings.Builder
	sum, err := NewEvaluator(zerolog.Nop(), s, &console, Options{TopK: 10, ProgressEvery: 2}).Run(context.Background(), Request{
		RunID:       "run-4",
		Run:         artifact.Run{Dataset: "x-2-euclidean"},
		Queries:     3,
		QueriesPath: f.queries,
		ReportBase:  f.base,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Evaluated)

	text, err := os.ReadFile(sum.TextPath)
	require.NoError(t, err)
	transcript := string(text)
	assert.Equal(t, 1, strings.Count(transcript, "Processed "))
	assert.Contains(t, transcript, "Processed 2/3 queries. Mean Recall@10 = 0.5000")
	assert.NotContains(t, transcript, "Processed 1/3")
	assert.NotContains(t, transcript, "Processed 3/3")
}

func TestEvaluator_AbortKeepsTranscriptOnly(t *testing.T) {
	f := newFixture(t, 3)
	s := &stubSearcher{
		ann:         []asterix.QueryResult{{IDs: []int64{1}}, {IDs: []int64{1}}, {IDs: []int64{1}}},
		exact:       []asterix.QueryResult{{IDs: []int64{1}}, {IDs: []int64{1}}, {IDs: []int64{1}}},
		failExactAt: 1,
	}

	var console strings.Builder
	sum, err := NewEvaluator(zerolog.Nop(), s, &console, Options{TopK: 10}).Run(context.Background(), Request{
		RunID:       "run-2",
		Run:         artifact.Run{Dataset: "x-2-euclidean"},
		Queries:     3,
		QueriesPath: f.queries,
		ReportBase:  f.base,
	})
	require.Error(t, err)
	assert.Equal(t, bencherrors.ExitService, bencherrors.ExitCode(err))
	assert.Equal(t, 2, s.annCalls)

	text, err := os.ReadFile(sum.TextPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Query 0:")
	assert.NotContains(t, string(text), "Query 1:")
	assert.NotContains(t, string(text), "RESULTS SUMMARY")

	assert.NoFileExists(t, f.base+ParquetExt)
	entries, err := os.ReadDir(filepath.Dir(f.base))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the text transcript remains")
}

func TestOpenReport_KeepsExistingReports(t *testing.T) {
	base := filepath.Join(t.TempDir(), "output", "x_results_20260101_000000")

	first, err := OpenReport(&strings.Builder{}, base)
	require.NoError(t, err)
	require.NoError(t, first.Println("first run"))
	require.NoError(t, first.Commit(nil))

	second, err := OpenReport(&strings.Builder{}, base)
	require.NoError(t, err)
	defer second.Abort()
	assert.Equal(t, base+"_1"+TextExt, second.TextPath)
	assert.Equal(t, base+"_1"+ParquetExt, second.ParquetPath)
	assert.Equal(t, base+"_1"+MetricsExt, second.MetricsPath)

	text, err := os.ReadFile(base + TextExt)
	require.NoError(t, err)
	assert.Equal(t, "first run\n", string(text))

	// A leftover data file also claims its name.
	require.NoError(t, os.WriteFile(base+"_2"+ParquetExt, nil, 0o644))
	third, err := OpenReport(&strings.Builder{}, base)
	require.NoError(t, err)
	defer third.Abort()
	assert.Equal(t, base+"_3"+TextExt, third.TextPath)
}

func TestEvaluator_QueryShortfallUsesProcessedCount(t *testing.T) {
	f := newFixture(t, 2)
	s := &stubSearcher{
		ann:         []asterix.QueryResult{{IDs: []int64{1}, ElapsedSeconds: 1}, {IDs: []int64{2}, ElapsedSeconds: 1}},
		exact:       []asterix.QueryResult{{IDs: []int64{1}, ElapsedSeconds: 2}, {IDs: []int64{9}, ElapsedSeconds: 2}},
		failExactAt: -1,
	}

	var logs strings.Builder
	sum, err := NewEvaluator(zerolog.New(&logs), s, &strings.Builder{}, Options{TopK: 10}).Run(context.Background(), Request{
		RunID:       "run-3",
		Run:         artifact.Run{Dataset: "x-2-euclidean", Records: 500},
		Queries:     10,
		QueriesPath: f.queries,
		ReportBase:  f.base,
	})
	require.NoError(t, err)
	assert.True(t, sum.QueryShortfall)
	assert.Equal(t, 10, sum.Requested)
	assert.Equal(t, 2, sum.Evaluated)
	assert.InDelta(t, 0.5, sum.MeanRecall, 1e-12)
	assert.InDelta(t, 1, sum.MeanANN, 1e-12)
	assert.InDelta(t, 2, sum.Speedup, 1e-12)
	assert.Contains(t, logs.String(), "Fewer query vectors available than requested")
	assert.Empty(t, sum.MetricsPath)
}

func TestEvaluator_GroundTruthMode(t *testing.T) {
	f := newFixture(t, 2)
	writeFile(t, f.neighbors,
		`{"idx":0,"neighbors":[1,2,3,4]}`,
		`{"idx":1,"neighbors":[7,8]}`,
	)
	s := &stubSearcher{
		ann:         []asterix.QueryResult{{IDs: []int64{1, 2}}, {IDs: []int64{7}}},
		exact:       []asterix.QueryResult{{IDs: []int64{100}}, {IDs: []int64{100}}},
		failExactAt: -1,
	}

	sum, err := NewEvaluator(zerolog.Nop(), s, &strings.Builder{}, Options{TopK: 2}).Run(context.Background(), Request{
		RunID:         "run-4",
		Run:           artifact.Run{Dataset: "x-2-euclidean"},
		Queries:       2,
		Mode:          ModeGroundTruth,
		QueriesPath:   f.queries,
		NeighborsPath: f.neighbors,
		ReportBase:    f.base,
	})
	require.NoError(t, err)
	// Truth truncated to top-2: {1,2} and {7,8}.
	assert.InDelta(t, (1+0.5)/2, sum.MeanRecall, 1e-12)
	assert.Equal(t, 2, s.exactCalls, "exact latency is measured in every mode")
}

func TestEvaluator_GroundTruthCountMismatch(t *testing.T) {
	f := newFixture(t, 2)
	writeFile(t, f.neighbors, `{"idx":0,"neighbors":[1]}`)

	_, err := NewEvaluator(zerolog.Nop(), &stubSearcher{}, &strings.Builder{}, Options{TopK: 2}).Run(context.Background(), Request{
		Run:           artifact.Run{Dataset: "x-2-euclidean"},
		Queries:       2,
		Mode:          ModeGroundTruth,
		QueriesPath:   f.queries,
		NeighborsPath: f.neighbors,
		ReportBase:    f.base,
	})
	require.Error(t, err)
	assert.Equal(t, bencherrors.ExitPrecondition, bencherrors.ExitCode(err))
}

func TestEvaluator_MissingInputs(t *testing.T) {
	dir := t.TempDir()
	e := NewEvaluator(zerolog.Nop(), &stubSearcher{}, &strings.Builder{}, Options{TopK: 2})

	_, err := e.Run(context.Background(), Request{
		Queries:     1,
		QueriesPath: filepath.Join(dir, "missing.jsonl"),
		ReportBase:  filepath.Join(dir, "output", "r"),
	})
	require.Error(t, err)
	assert.Equal(t, bencherrors.ExitPrecondition, bencherrors.ExitCode(err))
	assert.NoDirExists(t, filepath.Join(dir, "output"))

	_, err = e.Run(context.Background(), Request{QueriesPath: filepath.Join(dir, "missing.jsonl")})
	assert.Equal(t, bencherrors.ExitUsage, bencherrors.ExitCode(err))
}

func TestEvaluator_CanceledWhilePacing(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &stubSearcher{failExactAt: -1}
	pacer := limiter.NewRateLimiter(limiter.Config{Rate: 1})
	_, err := NewEvaluator(zerolog.Nop(), s, &strings.Builder{}, Options{TopK: 2, Pacer: pacer}).
		Run(ctx, Request{Queries: 1, QueriesPath: f.queries, ReportBase: f.base})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.annCalls)
	assert.NoFileExists(t, f.base+ParquetExt)
}
