// Package pipeline sequences the benchmark stages of a dataset and dispatches
// the individual stage commands.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/23skdu/annbench/internal/acquire"
	"github.com/23skdu/annbench/internal/artifact"
	"github.com/23skdu/annbench/internal/asterix"
	"github.com/23skdu/annbench/internal/config"
	"github.com/23skdu/annbench/internal/convert"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/evaluate"
	"github.com/23skdu/annbench/internal/history"
	"github.com/23skdu/annbench/internal/limiter"
	"github.com/23skdu/annbench/internal/metrics"
	"github.com/23skdu/annbench/internal/subsample"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	banner = "=============================================="

	// evalClientContextID tags every search statement of an evaluation.
	evalClientContextID = "ann_eval"
)

var stageTitles = map[string]string{
	"acquire":   "Downloading raw dataset",
	"convert":   "Converting HDF5 to JSON",
	"subsample": "Creating subdataset",
	"ingest":    "Loading dataset to AsterixDB",
	"index":     "Creating vector index",
	"evaluate":  "Running recall evaluation",
}

// Controller owns the components of a run and the console transcript.
type Controller struct {
	logger  zerolog.Logger
	cfg     config.Config
	layout  artifact.Layout
	console io.Writer

	source    acquire.Source
	opener    convert.Opener
	converter *convert.Converter
	requester *asterix.Requester
	pacer     *limiter.RateLimiter
	gatherer  prometheus.Gatherer

	now      func() time.Time
	newRunID func() string
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSource replaces the mirror selected from configuration.
func WithSource(s acquire.Source) Option {
	return func(c *Controller) { c.source = s }
}

// WithOpener replaces the container reader.
func WithOpener(open convert.Opener) Option {
	return func(c *Controller) { c.opener = open }
}

// WithGatherer sets the registry snapshotted next to each report. nil disables
// the snapshot.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *Controller) { c.gatherer = g }
}

// WithClock sets the time source used for report names.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRunIDs sets the run id generator.
func WithRunIDs(next func() string) Option {
	return func(c *Controller) { c.newRunID = next }
}

// New validates cfg and wires the run components. console receives the
// human transcript.
func New(logger zerolog.Logger, cfg config.Config, console io.Writer, opts ...Option) (*Controller, error) {
	if err := config.ValidateConfig(&cfg); err != nil {
		return nil, bencherrors.WrapConfigurationError(err, "pipeline", "invalid configuration")
	}

	c := &Controller{
		logger:   logger,
		cfg:      cfg,
		layout:   artifact.NewLayout(cfg.BaseDir),
		console:  console,
		gatherer: prometheus.DefaultGatherer,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.converter = convert.NewConverter(logger, 0)
	if c.opener != nil {
		c.converter.WithOpener(c.opener)
	}

	client := asterix.NewClient(logger, cfg.Endpoint, cfg.HTTPTimeout)
	c.requester = asterix.NewRequester(logger, client, asterix.StatementsFromConfig(&c.cfg))
	c.pacer = limiter.NewRateLimiter(limiter.Config{Rate: cfg.QueryRate})
	return c, nil
}

// Layout exposes the artifact paths the controller works on.
func (c *Controller) Layout() artifact.Layout {
	return c.layout
}

// Dispatch validates cmd and runs the matching operation.
func (c *Controller) Dispatch(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	c.logger.Debug().Str("command", cmd.Name()).Interface("args", cmd).Msg("Dispatching command")

	switch a := cmd.(type) {
	case AcquireArgs:
		_, err := c.Acquire(ctx, a.Dataset)
		return err
	case ConvertArgs:
		_, err := c.Convert(ctx, a.Dataset)
		return err
	case SubsampleArgs:
		_, err := c.Subsample(a.Dataset, a.Records)
		return err
	case IngestArgs:
		return c.Ingest(ctx, artifact.Run{Dataset: a.Dataset, Records: a.Records})
	case IndexArgs:
		return c.Index(ctx, artifact.Run{Dataset: a.Dataset, Records: a.Records}, a.Centroids)
	case EvaluateArgs:
		rc := c.NewRunContext(artifact.Run{Dataset: a.Dataset, Records: a.Records}, 0, a.Queries, a.Mode)
		_, err := c.Evaluate(ctx, rc)
		return err
	case PipelineArgs:
		rc := c.NewRunContext(artifact.Run{Dataset: a.Dataset, Records: a.Records}, a.Centroids, a.Queries, a.Mode)
		return c.Run(ctx, rc)
	case CleanArgs:
		_, err := c.Clean(a.Dataset)
		return err
	case HistoryArgs:
		_, err := c.History(ctx, a.Dataset)
		return err
	default:
		return bencherrors.NewUsageError("dispatch", fmt.Sprintf("unknown command %q", cmd.Name()))
	}
}

// NewRunContext starts a run with a fresh id.
func (c *Controller) NewRunContext(run artifact.Run, centroids, queries int, mode evaluate.Mode) *RunContext {
	if mode == "" {
		mode = evaluate.ModeExact
	}
	return &RunContext{
		RunID:     c.newRunID(),
		Run:       run,
		Centroids: centroids,
		Queries:   queries,
		Mode:      mode,
	}
}

// Run executes the stages of rc in order. The first failing stage ends the
// run with its error.
func (c *Controller) Run(ctx context.Context, rc *RunContext) error {
	c.println(banner)
	c.println("ANN PIPELINE START")
	c.printf("Dataset:      %s", rc.Run.Dataset)
	c.printf("num_k:        %d", rc.Centroids)
	c.printf("num_queries:  %d", rc.Queries)
	if rc.Run.Subsampled() {
		c.printf("num_records:  %d (subdataset)", rc.Run.Records)
	}
	c.printf("mode:         %s", rc.Mode)
	c.printf("run_id:       %s", rc.RunID)
	c.println(banner)

	for _, s := range c.Stages(rc) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runStage(ctx, s, rc); err != nil {
			return err
		}
	}

	c.println("")
	c.println(banner)
	c.println("ANN PIPELINE DONE")
	c.println(banner)
	c.println("")
	return nil
}

func (c *Controller) runStage(ctx context.Context, s Stage, rc *RunContext) error {
	logger := c.logger.With().Str("stage", s.Name()).Str("run_id", rc.RunID).Logger()

	if sk, ok := s.(Skipper); ok {
		done, err := sk.Done(rc)
		if err != nil {
			metrics.StageRunsTotal.WithLabelValues(s.Name(), "failed").Inc()
			return bencherrors.WrapStorageError(err, s.Name(), "check stage output")
		}
		if done {
			logger.Info().Msg("Stage output already present, skipping")
			metrics.StageRunsTotal.WithLabelValues(s.Name(), "skipped").Inc()
			c.printf("[skip] %s: output already present", s.Name())
			return nil
		}
	}

	c.println("")
	c.println(banner)
	c.printf("[step] %s", c.stageTitle(s.Name(), rc))
	c.println(banner)

	start := time.Now()
	err := s.Execute(ctx, rc)
	elapsed := time.Since(start)
	metrics.StageDurationSeconds.WithLabelValues(s.Name()).Observe(elapsed.Seconds())
	if err != nil {
		metrics.StageRunsTotal.WithLabelValues(s.Name(), "failed").Inc()
		logger.Error().Err(err).Int("exit_code", bencherrors.ExitCode(err)).Msg("Stage failed")
		c.printf("[run] FAILED (exit code %d)", bencherrors.ExitCode(err))
		return err
	}
	metrics.StageRunsTotal.WithLabelValues(s.Name(), "ok").Inc()
	logger.Info().Dur("elapsed", elapsed).Msg("Stage complete")
	return nil
}

func (c *Controller) stageTitle(name string, rc *RunContext) string {
	title := stageTitles[name]
	if name == "evaluate" {
		if rc.Mode == evaluate.ModeGroundTruth {
			return title + " (ANN vs ground truth)"
		}
		return title + " (ANN vs Exact)"
	}
	return title
}

// Acquire downloads the raw container unless present. The mirror is
// configured on first use, so commands that never download do not need it.
func (c *Controller) Acquire(ctx context.Context, dataset string) (acquire.Result, error) {
	if c.source == nil {
		src, err := acquire.NewSource(ctx, &c.cfg)
		if err != nil {
			return acquire.Result{}, bencherrors.WrapConfigurationError(err, "acquire", "configure mirror")
		}
		c.source = src
	}
	return acquire.NewFetcher(c.logger, c.source).Fetch(ctx, dataset, c.layout.RawContainer(dataset).Path)
}

// Convert writes the record streams of dataset.
func (c *Controller) Convert(ctx context.Context, dataset string) ([]convert.StreamResult, error) {
	results, err := c.converter.ConvertFile(ctx, c.layout.RawContainer(dataset).Path, convert.TargetsFor(c.layout, dataset))
	if err != nil {
		return results, err
	}
	for _, r := range results {
		c.printf("[convert] %s: %s (%s)", r.Member, r.Path, r.Status)
	}
	return results, nil
}

// Subsample derives the n-record training stream of dataset.
func (c *Controller) Subsample(dataset string, n int) (subsample.Result, error) {
	out := c.layout.SubsampleStream(dataset, n)
	res, err := subsample.Subsample(c.logger, c.layout.TrainStream(dataset).Path, out.Path, n)
	if err != nil {
		return res, err
	}
	if res.Existed {
		c.printf("[subsample] Already exists: %s", out.Path)
	} else {
		c.printf("[subsample] Wrote %d records to %s", res.Count, out.Path)
	}
	return res, nil
}

// Ingest loads the training stream of run into a fresh dataverse.
func (c *Controller) Ingest(ctx context.Context, run artifact.Run) error {
	stream := c.layout.LoadStream(run)
	exists, err := stream.Exists()
	if err != nil {
		return bencherrors.WrapStorageError(err, "ingest", "stat dataset file")
	}
	if !exists {
		return bencherrors.NewPreconditionError("ingest", "dataset file not found").WithContext("path", stream.Path)
	}

	resp, err := c.requester.Ingest(ctx, asterix.IngestRequest{Run: run, Path: stream.Path})
	if err != nil {
		return err
	}
	c.printf("Loaded %s as Asterix dataset %s", stream.Path, run.AsterixName())
	c.printf("AsterixDB response:\n%s", strings.TrimSpace(string(resp.Raw)))
	return nil
}

// Index builds the vector index of run with centroids clusters.
func (c *Controller) Index(ctx context.Context, run artifact.Run, centroids int) error {
	resp, err := c.requester.CreateIndex(ctx, asterix.IndexRequest{Run: run, Centroids: centroids})
	if err != nil {
		return err
	}
	c.printf("AsterixDB response:\n%s", strings.TrimSpace(string(resp.Raw)))
	return nil
}

// Evaluate measures recall and latency for rc.
func (c *Controller) Evaluate(ctx context.Context, rc *RunContext) (evaluate.Summary, error) {
	ds := rc.Run.Dataset
	searcher := c.requester.Searcher(rc.Run, evalClientContextID)
	ev := evaluate.NewEvaluator(c.logger, searcher, c.console, evaluate.Options{
		TopK:          c.cfg.TopK,
		ProgressEvery: c.cfg.ProgressEvery,
		Pacer:         c.pacer,
		Gatherer:      c.gatherer,
	})
	return ev.Run(ctx, evaluate.Request{
		RunID:         rc.RunID,
		Run:           rc.Run,
		Queries:       rc.Queries,
		Mode:          rc.Mode,
		QueriesPath:   c.layout.TestStream(ds).Path,
		NeighborsPath: c.layout.NeighborsStream(ds).Path,
		ReportBase:    c.layout.ReportBase(rc.Run, c.now()),
	})
}

// Clean removes every artifact of dataset and reports what was removed.
func (c *Controller) Clean(dataset string) (artifact.CleanReport, error) {
	c.println("")
	c.println(banner)
	c.printf("[CLEAN] Removing dataset: %s", dataset)
	c.println(banner)

	report, err := c.layout.Clean(dataset)
	for _, p := range report.Removed {
		c.printf("[CLEAN] Removed: %s", p)
	}
	if err != nil {
		return report, bencherrors.WrapStorageError(err, "clean", "remove artifacts").WithContext("dataset", dataset)
	}
	for _, p := range report.Absent {
		c.printf("[CLEAN] Absent: %s", p)
	}
	if len(report.Removed) == 0 {
		c.println("[CLEAN] No files found for this dataset.")
	}
	c.println("[CLEAN] Done.")
	c.println("")

	c.logger.Info().
		Str("dataset", dataset).
		Int("removed", len(report.Removed)).
		Int("absent", len(report.Absent)).
		Msg("Cleaned dataset artifacts")
	return report, nil
}

// History prints the recorded evaluation runs of dataset.
func (c *Controller) History(ctx context.Context, dataset string) ([]history.Run, error) {
	runs, err := history.New(c.logger, c.layout.OutputDir()).Runs(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		c.printf("No evaluation runs recorded for %s", dataset)
		return nil, nil
	}
	if err := history.Render(c.console, runs); err != nil {
		return runs, bencherrors.WrapStorageError(err, "history", "write table")
	}
	return runs, nil
}

func (c *Controller) println(line string) {
	_, _ = fmt.Fprintln(c.console, line)
}

func (c *Controller) printf(format string, args ...any) {
	c.println(fmt.Sprintf(format, args...))
}
