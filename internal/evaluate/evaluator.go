// Package evaluate runs paired approximate and exact searches for a set of
// query vectors and reports recall and latency.
package evaluate

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/23skdu/annbench/internal/artifact"
	"github.com/23skdu/annbench/internal/asterix"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/limiter"
	"github.com/23skdu/annbench/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const banner = "=============================================="

// Mode selects the reference set recall is measured against.
type Mode string

const (
	// ModeExact compares against the live exact search.
	ModeExact Mode = "exact"
	// ModeGroundTruth compares against the neighbors stream.
	ModeGroundTruth Mode = "groundtruth"
)

// ParseMode validates a mode name. The empty string is ModeExact.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeExact:
		return ModeExact, nil
	case ModeGroundTruth:
		return ModeGroundTruth, nil
	default:
		return "", bencherrors.NewUsageError("evaluate", fmt.Sprintf("unknown mode %q (want exact or groundtruth)", s))
	}
}

// Searcher runs top-k searches over the approximate and exact paths.
type Searcher interface {
	ANN(ctx context.Context, target []float64, k int) (asterix.QueryResult, error)
	Exact(ctx context.Context, target []float64, k int) (asterix.QueryResult, error)
	Dataset() string
}

// Options configure an Evaluator.
type Options struct {
	TopK          int
	ProgressEvery int
	Pacer         *limiter.RateLimiter
	// Gatherer is snapshotted next to the report; nil skips the snapshot.
	Gatherer prometheus.Gatherer
}

// Request is one evaluation run.
type Request struct {
	RunID         string
	Run           artifact.Run
	Queries       int
	Mode          Mode
	QueriesPath   string
	NeighborsPath string
	// ReportBase is the report path without extension.
	ReportBase string
}

// Summary is the outcome of a completed run.
type Summary struct {
	RunID          string
	Requested      int
	Evaluated      int
	MeanRecall     float64
	MeanANN        float64
	MeanExact      float64
	Speedup        float64
	TotalANN       float64
	TotalExact     float64
	TextPath       string
	ParquetPath    string
	MetricsPath    string
	QueryShortfall bool
}

// Evaluator issues the query pairs strictly one after another.
type Evaluator struct {
	logger   zerolog.Logger
	searcher Searcher
	console  io.Writer
	opts     Options
	now      func() time.Time
}

// NewEvaluator returns an evaluator printing its transcript to console.
func NewEvaluator(logger zerolog.Logger, searcher Searcher, console io.Writer, opts Options) *Evaluator {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 50
	}
	return &Evaluator{
		logger:   logger,
		searcher: searcher,
		console:  console,
		opts:     opts,
		now:      time.Now,
	}
}

// Run evaluates req. Any search failure aborts the run without a summary.
func (e *Evaluator) Run(ctx context.Context, req Request) (Summary, error) {
	sum := Summary{RunID: req.RunID, Requested: req.Queries}
	if req.Mode == "" {
		req.Mode = ModeExact
	}

	if req.Queries <= 0 {
		return sum, bencherrors.NewUsageError("evaluate", fmt.Sprintf("query count must be positive, got %d", req.Queries))
	}
	if err := requireFile("evaluate", "test file not found", req.QueriesPath); err != nil {
		return sum, err
	}
	if req.Mode == ModeGroundTruth {
		if err := requireFile("evaluate", "neighbors file not found", req.NeighborsPath); err != nil {
			return sum, err
		}
	}

	report, err := OpenReport(e.console, req.ReportBase)
	if err != nil {
		return sum, bencherrors.WrapStorageError(err, "evaluate", "open report")
	}
	defer report.Abort()
	sum.TextPath = report.TextPath

	if err := e.header(report, req); err != nil {
		return sum, bencherrors.WrapStorageError(err, "evaluate", "write report")
	}

	acc, err := e.loop(ctx, report, req, &sum)
	if err != nil {
		return sum, err
	}

	m := acc.Means()
	sum.Evaluated = acc.Processed
	sum.MeanRecall = m.Recall
	sum.MeanANN = m.ANNSeconds
	sum.MeanExact = m.ExactSeconds
	sum.Speedup = acc.Speedup()
	sum.TotalANN = acc.ANNSeconds
	sum.TotalExact = acc.ExactSeconds

	label := req.Run.ReportPrefix()
	metrics.MeanRecall.WithLabelValues(label).Set(sum.MeanRecall)
	metrics.Speedup.WithLabelValues(label).Set(sum.Speedup)

	if err := e.summary(report, sum); err != nil {
		return sum, bencherrors.WrapStorageError(err, "evaluate", "write report")
	}
	if err := report.Commit(e.opts.Gatherer); err != nil {
		return sum, bencherrors.WrapStorageError(err, "evaluate", "publish report")
	}
	sum.ParquetPath = report.ParquetPath
	if e.opts.Gatherer != nil {
		sum.MetricsPath = report.MetricsPath
	}

	_, _ = fmt.Fprintf(e.console, "Results saved to: %s\n", report.TextPath)
	e.logger.Info().
		Str("run_id", req.RunID).
		Int("queries", sum.Evaluated).
		Float64("mean_recall", sum.MeanRecall).
		Float64("speedup", sum.Speedup).
		Str("report", report.TextPath).
		Msg("Evaluation complete")
	return sum, nil
}

func (e *Evaluator) header(r *Report, req Request) error {
	lines := []string{
		banner,
		fmt.Sprintf("Dataset:            %s", req.Run.DisplayName()),
		fmt.Sprintf("Asterix dataset:    %s", e.searcher.Dataset()),
		fmt.Sprintf("Queries to evaluate:%d", req.Queries),
	}
	if req.Mode == ModeGroundTruth {
		lines = append(lines, "Comparing ANN (ann_distance) vs ground truth neighbors")
	} else {
		lines = append(lines, "Comparing ANN (ann_distance) vs Exact (vector_distance)")
	}
	lines = append(lines,
		fmt.Sprintf("Run ID:             %s", req.RunID),
		banner,
		"",
		"Loading query vectors...",
	)
	for _, l := range lines {
		if err := r.Println(l); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) loop(ctx context.Context, r *Report, req Request, sum *Summary) (Accumulator, error) {
	var acc Accumulator
	k := e.opts.TopK
	label := req.Run.ReportPrefix()

	queries, err := LoadQueries(req.QueriesPath, req.Queries)
	if err != nil {
		return acc, err
	}
	if err := r.Printf("Loaded %d query vectors\n", len(queries)); err != nil {
		return acc, bencherrors.WrapStorageError(err, "evaluate", "write report")
	}
	if len(queries) < req.Queries {
		sum.QueryShortfall = true
		e.logger.Warn().
			Int("available", len(queries)).
			Int("requested", req.Queries).
			Msg("Fewer query vectors available than requested")
	}

	var truth [][]int64
	if req.Mode == ModeGroundTruth && len(queries) > 0 {
		truth, err = LoadGroundTruth(req.NeighborsPath, len(queries), k)
		if err != nil {
			return acc, err
		}
		if len(truth) != len(queries) {
			return acc, bencherrors.NewPreconditionError("evaluate",
				fmt.Sprintf("query and ground truth counts differ: %d vs %d", len(queries), len(truth)))
		}
	}

	startedMs := e.now().UnixMilli()
	for i, vec := range queries {
		if err := e.opts.Pacer.Wait(ctx); err != nil {
			return acc, err
		}

		ann, err := e.searcher.ANN(ctx, vec, k)
		if err != nil {
			return acc, err
		}
		exact, err := e.searcher.Exact(ctx, vec, k)
		if err != nil {
			return acc, err
		}

		reference := exact.IDs
		if truth != nil {
			reference = truth[i]
		}
		recall := Recall(ann.IDs, reference)
		acc.Add(recall, ann.ElapsedSeconds, exact.ElapsedSeconds)

		metrics.QueryLatencySeconds.WithLabelValues(label, "ann").Observe(ann.ElapsedSeconds)
		metrics.QueryLatencySeconds.WithLabelValues(label, "exact").Observe(exact.ElapsedSeconds)
		metrics.QueryRecall.WithLabelValues(label).Observe(recall)
		metrics.QueriesEvaluatedTotal.WithLabelValues(label).Inc()

		if err := r.Record(QueryRow{
			RunID:            req.RunID,
			Dataset:          req.Run.Dataset,
			Records:          int64(req.Run.Records),
			Mode:             string(req.Mode),
			Query:            int64(i),
			Recall:           recall,
			ANNSeconds:       ann.ElapsedSeconds,
			ExactSeconds:     exact.ElapsedSeconds,
			ANNResults:       int32(len(ann.IDs)),
			ReferenceResults: int32(len(reference)),
			StartedUnixMs:    startedMs,
		}); err != nil {
			return acc, bencherrors.WrapStorageError(err, "evaluate", "record query")
		}

		if err := r.Printf("Query %d: Recall@%d = %.4f | ANN: %.6fs | Exact: %.6fs",
			i, k, recall, ann.ElapsedSeconds, exact.ElapsedSeconds); err != nil {
			return acc, bencherrors.WrapStorageError(err, "evaluate", "write report")
		}

		if acc.Processed%e.opts.ProgressEvery == 0 {
			m := acc.Means()
			if err := r.Printf("Processed %d/%d queries. Mean Recall@%d = %.4f | Avg ANN time: %.6fs | Avg Exact time: %.6fs",
				acc.Processed, len(queries), k, m.Recall, m.ANNSeconds, m.ExactSeconds); err != nil {
				return acc, bencherrors.WrapStorageError(err, "evaluate", "write report")
			}
		}
	}
	return acc, nil
}

func (e *Evaluator) summary(r *Report, s Summary) error {
	k := e.opts.TopK
	lines := []string{
		"",
		banner,
		"RESULTS SUMMARY",
		banner,
		fmt.Sprintf("Queries evaluated:        %d", s.Evaluated),
		fmt.Sprintf("Mean Recall@%d:        %.4f", k, s.MeanRecall),
		"",
		fmt.Sprintf("Avg ANN query time:       %.6fs", s.MeanANN),
		fmt.Sprintf("Avg Exact query time:     %.6fs", s.MeanExact),
		fmt.Sprintf("Speedup (Exact/ANN):      %.2fx", s.Speedup),
		"",
		fmt.Sprintf("Total ANN time:           %.3fs", s.TotalANN),
		fmt.Sprintf("Total Exact time:         %.3fs", s.TotalExact),
		banner,
		"",
	}
	for _, l := range lines {
		if err := r.Println(l); err != nil {
			return err
		}
	}
	return nil
}

func requireFile(operation, message, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return bencherrors.NewPreconditionError(operation, message).WithContext("path", path)
		}
		return bencherrors.WrapStorageError(err, operation, "stat input")
	}
	return nil
}
