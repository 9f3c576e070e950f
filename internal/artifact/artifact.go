// Package artifact names the files each pipeline stage produces and decides
// idempotency from their presence on disk.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which stage produced an artifact.
type Kind int

const (
	KindRawContainer Kind = iota
	KindTrainStream
	KindTestStream
	KindNeighborsStream
	KindSubsampleStream
)

func (k Kind) String() string {
	switch k {
	case KindRawContainer:
		return "raw-container"
	case KindTrainStream:
		return "train-stream"
	case KindTestStream:
		return "test-stream"
	case KindNeighborsStream:
		return "neighbors-stream"
	case KindSubsampleStream:
		return "subsample-stream"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Directory names under the base directory
const (
	RawDir       = "raw"
	DatasetsDir  = "datasets"
	TestsDir     = "tests"
	NeighborsDir = "neighbors"
	OutputDir    = "output"

	containerExt = ".hdf5"
	streamExt    = ".jsonl"

	// ReportTimeLayout is embedded in report file names.
	ReportTimeLayout = "20060102_150405"
)

// Artifact is one stage output on disk. Existence is checked lazily.
type Artifact struct {
	Kind Kind
	Path string
	// Records is the record count when known, 0 otherwise.
	Records int
}

// Exists reports whether the artifact file is present.
func (a Artifact) Exists() (bool, error) {
	_, err := os.Stat(a.Path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Run is the identity a pipeline invocation works on.
type Run struct {
	Dataset string
	// Records selects a subsampled training stream when > 0.
	Records int
}

// Subsampled reports whether the run targets a size-bounded prefix of the train stream.
func (r Run) Subsampled() bool {
	return r.Records > 0
}

// ReportPrefix is the dataset identity decorated with the subsample size.
func (r Run) ReportPrefix() string {
	if r.Subsampled() {
		return r.Dataset + "_" + strconv.Itoa(r.Records)
	}
	return r.Dataset
}

// AsterixName is the identity with hyphens mapped to underscores, safe as a dataset name.
func (r Run) AsterixName() string {
	return strings.ReplaceAll(r.ReportPrefix(), "-", "_")
}

// DisplayName is the identity as shown in report headers.
func (r Run) DisplayName() string {
	if r.Subsampled() {
		return fmt.Sprintf("%s (subdataset: %d records)", r.Dataset, r.Records)
	}
	return r.Dataset
}

// Layout resolves artifact paths under a base directory.
type Layout struct {
	BaseDir string
}

// NewLayout returns a layout rooted at baseDir.
func NewLayout(baseDir string) Layout {
	return Layout{BaseDir: baseDir}
}

func (l Layout) dir(name string) string {
	return filepath.Join(l.BaseDir, name)
}

// RawContainer is the downloaded dataset container.
func (l Layout) RawContainer(dataset string) Artifact {
	return Artifact{Kind: KindRawContainer, Path: filepath.Join(l.dir(RawDir), dataset+containerExt)}
}

// TrainStream is the full training record stream.
func (l Layout) TrainStream(dataset string) Artifact {
	return Artifact{Kind: KindTrainStream, Path: filepath.Join(l.dir(DatasetsDir), dataset+"_train"+streamExt)}
}

// SubsampleStream is the first n records of the training stream.
func (l Layout) SubsampleStream(dataset string, n int) Artifact {
	name := dataset + "_train_" + strconv.Itoa(n) + streamExt
	return Artifact{Kind: KindSubsampleStream, Path: filepath.Join(l.dir(DatasetsDir), name), Records: n}
}

// TestStream is the query vector stream.
func (l Layout) TestStream(dataset string) Artifact {
	return Artifact{Kind: KindTestStream, Path: filepath.Join(l.dir(TestsDir), dataset+"_test"+streamExt)}
}

// NeighborsStream is the reference nearest-neighbor stream.
func (l Layout) NeighborsStream(dataset string) Artifact {
	return Artifact{Kind: KindNeighborsStream, Path: filepath.Join(l.dir(NeighborsDir), dataset+"_neighbors"+streamExt)}
}

// LoadStream is the train stream a run ingests: the subsample when one is selected.
func (l Layout) LoadStream(r Run) Artifact {
	if r.Subsampled() {
		return l.SubsampleStream(r.Dataset, r.Records)
	}
	return l.TrainStream(r.Dataset)
}

// OutputDir is where evaluation reports are written.
func (l Layout) OutputDir() string {
	return l.dir(OutputDir)
}

// ReportBase is the extension-less report path for a run started at t.
func (l Layout) ReportBase(r Run, t time.Time) string {
	return filepath.Join(l.OutputDir(), r.ReportPrefix()+"_results_"+t.Format(ReportTimeLayout))
}

// IsSubsampleName reports whether name is a subsample stream file of dataset.
func IsSubsampleName(dataset, name string) bool {
	prefix := dataset + "_train_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, streamExt) {
		return false
	}
	n := strings.TrimSuffix(strings.TrimPrefix(name, prefix), streamExt)
	if n == "" {
		return false
	}
	for _, c := range n {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CleanReport lists what Clean removed and what was already absent.
type CleanReport struct {
	Removed []string
	Absent  []string
}

// Clean deletes every artifact of dataset, including all subsample streams.
// Reports are never removed.
func (l Layout) Clean(dataset string) (CleanReport, error) {
	var report CleanReport

	fixed := []Artifact{
		l.RawContainer(dataset),
		l.TrainStream(dataset),
		l.TestStream(dataset),
		l.NeighborsStream(dataset),
	}
	for _, a := range fixed {
		removed, err := removeIfExists(a.Path)
		if err != nil {
			return report, err
		}
		if removed {
			report.Removed = append(report.Removed, a.Path)
		} else {
			report.Absent = append(report.Absent, a.Path)
		}
	}

	entries, err := os.ReadDir(l.dir(DatasetsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return report, err
	}
	for _, e := range entries {
		if e.IsDir() || !IsSubsampleName(dataset, e.Name()) {
			continue
		}
		path := filepath.Join(l.dir(DatasetsDir), e.Name())
		removed, err := removeIfExists(path)
		if err != nil {
			return report, err
		}
		if removed {
			report.Removed = append(report.Removed, path)
		}
	}

	return report, nil
}

func removeIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove %s: %w", path, err)
}
