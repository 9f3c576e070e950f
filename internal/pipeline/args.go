package pipeline

import (
	"fmt"

	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/evaluate"
)

// Command is a typed invocation of one controller operation.
type Command interface {
	// Name is the command as typed on the command line.
	Name() string
	// Validate reports argument errors as usage errors.
	Validate() error
}

// ConvertArgs converts the raw container of Dataset into record streams.
type ConvertArgs struct {
	Dataset string
}

// SubsampleArgs derives the first Records training records of Dataset.
type SubsampleArgs struct {
	Dataset string
	Records int
}

// IngestArgs loads Dataset, or its Records-sized subsample when Records > 0.
type IngestArgs struct {
	Dataset string
	Records int
}

// IndexArgs builds the vector index with Centroids clusters.
type IndexArgs struct {
	Dataset   string
	Centroids int
	Records   int
}

// EvaluateArgs compares approximate and exact results for Queries queries.
type EvaluateArgs struct {
	Dataset string
	Queries int
	Records int
	Mode    evaluate.Mode
}

// PipelineArgs runs every stage in order.
type PipelineArgs struct {
	Dataset   string
	Centroids int
	Queries   int
	Records   int
	Mode      evaluate.Mode
}

// CleanArgs removes every artifact of Dataset.
type CleanArgs struct {
	Dataset string
}

// HistoryArgs lists the recorded evaluation runs of Dataset.
type HistoryArgs struct {
	Dataset string
}

func (ConvertArgs) Name() string   { return "convert" }
func (SubsampleArgs) Name() string { return "subsample" }
func (IngestArgs) Name() string    { return "ingest" }
func (IndexArgs) Name() string     { return "index" }
func (EvaluateArgs) Name() string  { return "evaluate" }
func (PipelineArgs) Name() string  { return "pipeline" }
func (CleanArgs) Name() string     { return "clean" }
func (HistoryArgs) Name() string   { return "history" }

func (a ConvertArgs) Validate() error {
	return requireDataset(a.Name(), a.Dataset)
}

func (a SubsampleArgs) Validate() error {
	if err := requireDataset(a.Name(), a.Dataset); err != nil {
		return err
	}
	return requirePositive(a.Name(), "num_records", a.Records)
}

func (a IngestArgs) Validate() error {
	if err := requireDataset(a.Name(), a.Dataset); err != nil {
		return err
	}
	return requireNonNegative(a.Name(), "num_records", a.Records)
}

func (a IndexArgs) Validate() error {
	if err := requireDataset(a.Name(), a.Dataset); err != nil {
		return err
	}
	if err := requirePositive(a.Name(), "num_k", a.Centroids); err != nil {
		return err
	}
	return requireNonNegative(a.Name(), "num_records", a.Records)
}

func (a EvaluateArgs) Validate() error {
	if err := requireDataset(a.Name(), a.Dataset); err != nil {
		return err
	}
	if err := requirePositive(a.Name(), "num_queries", a.Queries); err != nil {
		return err
	}
	if err := requireNonNegative(a.Name(), "num_records", a.Records); err != nil {
		return err
	}
	_, err := evaluate.ParseMode(string(a.Mode))
	return err
}

func (a PipelineArgs) Validate() error {
	if err := requireDataset(a.Name(), a.Dataset); err != nil {
		return err
	}
	if err := requirePositive(a.Name(), "num_k", a.Centroids); err != nil {
		return err
	}
	if err := requirePositive(a.Name(), "num_queries", a.Queries); err != nil {
		return err
	}
	if err := requireNonNegative(a.Name(), "num_records", a.Records); err != nil {
		return err
	}
	_, err := evaluate.ParseMode(string(a.Mode))
	return err
}

func (a CleanArgs) Validate() error {
	return requireDataset(a.Name(), a.Dataset)
}

func (a HistoryArgs) Validate() error {
	return requireDataset(a.Name(), a.Dataset)
}

func requireDataset(op, dataset string) error {
	if dataset == "" {
		return bencherrors.NewUsageError(op, "dataset name is required")
	}
	return nil
}

func requirePositive(op, name string, v int) error {
	if v <= 0 {
		return bencherrors.NewUsageError(op, fmt.Sprintf("%s must be a positive integer, got %d", name, v))
	}
	return nil
}

func requireNonNegative(op, name string, v int) error {
	if v < 0 {
		return bencherrors.NewUsageError(op, fmt.Sprintf("%s cannot be negative, got %d", name, v))
	}
	return nil
}

// AcquireArgs downloads the raw container of Dataset.
type AcquireArgs struct {
	Dataset string
}

func (AcquireArgs) Name() string { return "acquire" }

func (a AcquireArgs) Validate() error {
	return requireDataset(a.Name(), a.Dataset)
}
