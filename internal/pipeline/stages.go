package pipeline

import (
	"context"

	"github.com/23skdu/annbench/internal/artifact"
	"github.com/23skdu/annbench/internal/convert"
	"github.com/23skdu/annbench/internal/evaluate"
)

// Stage is one step of a pipeline run.
type Stage interface {
	Name() string
	Execute(ctx context.Context, rc *RunContext) error
}

// Skipper is implemented by stages whose output artifact witnesses a
// previous successful run.
type Skipper interface {
	Done(rc *RunContext) (bool, error)
}

// RunContext carries state through the stages of one run.
type RunContext struct {
	RunID     string
	Run       artifact.Run
	Centroids int
	Queries   int
	Mode      evaluate.Mode

	// Set by the convert stage
	Streams []convert.StreamResult
	// Set by the subsample stage
	Subsampled int
	// Set by the evaluate stage
	Summary evaluate.Summary
}

// Stages returns the stage order for rc. Subsample is present only for
// subsampled runs.
func (c *Controller) Stages(rc *RunContext) []Stage {
	stages := []Stage{
		acquireStage{c},
		convertStage{c},
	}
	if rc.Run.Subsampled() {
		stages = append(stages, subsampleStage{c})
	}
	return append(stages,
		ingestStage{c},
		indexStage{c},
		evaluateStage{c},
	)
}

type acquireStage struct{ c *Controller }

func (acquireStage) Name() string { return "acquire" }

func (s acquireStage) Done(rc *RunContext) (bool, error) {
	return s.c.layout.RawContainer(rc.Run.Dataset).Exists()
}

func (s acquireStage) Execute(ctx context.Context, rc *RunContext) error {
	_, err := s.c.Acquire(ctx, rc.Run.Dataset)
	return err
}

type convertStage struct{ c *Controller }

func (convertStage) Name() string { return "convert" }

func (s convertStage) Done(rc *RunContext) (bool, error) {
	return convert.TargetsFor(s.c.layout, rc.Run.Dataset).Complete()
}

func (s convertStage) Execute(ctx context.Context, rc *RunContext) error {
	results, err := s.c.Convert(ctx, rc.Run.Dataset)
	rc.Streams = results
	return err
}

type subsampleStage struct{ c *Controller }

func (subsampleStage) Name() string { return "subsample" }

func (s subsampleStage) Done(rc *RunContext) (bool, error) {
	return s.c.layout.SubsampleStream(rc.Run.Dataset, rc.Run.Records).Exists()
}

func (s subsampleStage) Execute(_ context.Context, rc *RunContext) error {
	res, err := s.c.Subsample(rc.Run.Dataset, rc.Run.Records)
	rc.Subsampled = res.Count
	return err
}

type ingestStage struct{ c *Controller }

func (ingestStage) Name() string { return "ingest" }

func (s ingestStage) Execute(ctx context.Context, rc *RunContext) error {
	return s.c.Ingest(ctx, rc.Run)
}

type indexStage struct{ c *Controller }

func (indexStage) Name() string { return "index" }

func (s indexStage) Execute(ctx context.Context, rc *RunContext) error {
	return s.c.Index(ctx, rc.Run, rc.Centroids)
}

type evaluateStage struct{ c *Controller }

func (evaluateStage) Name() string { return "evaluate" }

func (s evaluateStage) Execute(ctx context.Context, rc *RunContext) error {
	sum, err := s.c.Evaluate(ctx, rc)
	rc.Summary = sum
	return err
}
