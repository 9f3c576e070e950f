package evaluate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/23skdu/annbench/internal/artifact"
	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Report file extensions
const (
	TextExt    = ".txt"
	ParquetExt = ".parquet"
	MetricsExt = ".prom"
)

// QueryRow is one evaluated query as stored in the per-run parquet file.
type QueryRow struct {
	RunID            string  `parquet:"run_id"`
	Dataset          string  `parquet:"dataset"`
	Records          int64   `parquet:"records"`
	Mode             string  `parquet:"mode"`
	Query            int64   `parquet:"query"`
	Recall           float64 `parquet:"recall"`
	ANNSeconds       float64 `parquet:"ann_seconds"`
	ExactSeconds     float64 `parquet:"exact_seconds"`
	ANNResults       int32   `parquet:"ann_results"`
	ReferenceResults int32   `parquet:"reference_results"`
	StartedUnixMs    int64   `parquet:"started_unix_ms"`
}

// Report tees the evaluation transcript to the console and a text file, and
// stores per-query rows in a parquet file published on success.
type Report struct {
	console io.Writer
	text    *os.File

	rows   *artifact.Writer
	pw     *parquet.GenericWriter[QueryRow]
	closed bool

	TextPath    string
	ParquetPath string
	MetricsPath string
}

// maxReportSuffix bounds the search for a free report name.
const maxReportSuffix = 1000

// OpenReport creates <base>.txt and stages <base>.parquet. When a report
// already uses base, the first free <base>_<n> is taken instead; existing
// reports are never overwritten.
func OpenReport(console io.Writer, base string) (*Report, error) {
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	text, base, err := createReportText(base)
	if err != nil {
		return nil, err
	}
	rows, err := artifact.Create(base + ParquetExt)
	if err != nil {
		_ = text.Close()
		return nil, err
	}
	return &Report{
		console:     console,
		text:        text,
		rows:        rows,
		pw:          parquet.NewGenericWriter[QueryRow](rows, parquet.Compression(&parquet.Zstd)),
		TextPath:    base + TextExt,
		ParquetPath: base + ParquetExt,
		MetricsPath: base + MetricsExt,
	}, nil
}

// createReportText exclusively creates the text file of the first unused
// report name derived from base.
func createReportText(base string) (*os.File, string, error) {
	for n := 0; n <= maxReportSuffix; n++ {
		candidate := base
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d", base, n)
		}
		if reportExists(candidate) {
			continue
		}
		f, err := os.OpenFile(candidate+TextExt, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("create report: %w", err)
		}
		return f, candidate, nil
	}
	return nil, "", fmt.Errorf("create report: no free name for %s", base)
}

// reportExists reports whether the data files of a report named base exist.
func reportExists(base string) bool {
	for _, ext := range []string{ParquetExt, MetricsExt} {
		if _, err := os.Lstat(base + ext); err == nil {
			return true
		}
	}
	return false
}

// Println writes one transcript line to the console and the text file.
func (r *Report) Println(line string) error {
	if _, err := io.WriteString(r.console, line+"\n"); err != nil {
		return err
	}
	if _, err := io.WriteString(r.text, line+"\n"); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Printf formats one transcript line.
func (r *Report) Printf(format string, args ...any) error {
	return r.Println(fmt.Sprintf(format, args...))
}

// Record appends a per-query row.
func (r *Report) Record(row QueryRow) error {
	if _, err := r.pw.Write([]QueryRow{row}); err != nil {
		return fmt.Errorf("write query row: %w", err)
	}
	return nil
}

// Commit publishes the parquet file and snapshots g to the metrics textfile.
func (r *Report) Commit(g prometheus.Gatherer) error {
	if r.closed {
		return fmt.Errorf("report %s already closed", r.TextPath)
	}
	r.closed = true

	textErr := r.text.Close()
	if err := r.pw.Close(); err != nil {
		r.rows.Abort()
		return fmt.Errorf("finish query rows: %w", err)
	}
	if err := r.rows.Commit(); err != nil {
		return err
	}
	if textErr != nil {
		return fmt.Errorf("close report: %w", textErr)
	}
	if g != nil {
		if err := prometheus.WriteToTextfile(r.MetricsPath, g); err != nil {
			return fmt.Errorf("write metrics snapshot: %w", err)
		}
	}
	return nil
}

// Abort keeps the text transcript and discards the parquet file. Safe to
// call after Commit.
func (r *Report) Abort() {
	if r.closed {
		return
	}
	r.closed = true
	_ = r.text.Close()
	_ = r.pw.Close()
	r.rows.Abort()
}
