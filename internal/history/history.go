// Package history summarizes past evaluation runs from their per-query
// parquet files.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	bencherrors "github.com/23skdu/annbench/internal/errors"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"
)

const summaryQuery = `
SELECT
	run_id,
	any_value(mode)          AS mode,
	any_value(records)       AS records,
	min(started_unix_ms)     AS started_ms,
	count(*)                 AS queries,
	avg(recall)              AS mean_recall,
	avg(ann_seconds)         AS mean_ann,
	avg(exact_seconds)       AS mean_exact
FROM read_parquet(%s)
WHERE dataset = ?
GROUP BY run_id
ORDER BY started_ms, run_id`

// Run is the summary of one evaluation run.
type Run struct {
	RunID      string
	Mode       string
	Records    int64
	StartedAt  time.Time
	Queries    int64
	MeanRecall float64
	MeanANN    float64
	MeanExact  float64
}

// Speedup is mean exact latency over mean approximate latency.
func (r Run) Speedup() float64 {
	if r.MeanANN <= 0 {
		return 0
	}
	return r.MeanExact / r.MeanANN
}

// History reads the parquet files of an output directory.
type History struct {
	logger    zerolog.Logger
	outputDir string
}

// New returns a history over outputDir.
func New(logger zerolog.Logger, outputDir string) *History {
	return &History{logger: logger, outputDir: outputDir}
}

// Files lists the parquet files that may hold runs of dataset.
func (h *History) Files(dataset string) ([]string, error) {
	pattern := filepath.Join(h.outputDir, globEscape(dataset)+"_*.parquet")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, bencherrors.WrapUsageError(err, "history", "bad dataset pattern")
	}
	return files, nil
}

// Runs aggregates every run of dataset, oldest first.
func (h *History) Runs(ctx context.Context, dataset string) ([]Run, error) {
	files, err := h.Files(dataset)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	h.logger.Debug().Int("files", len(files)).Str("dataset", dataset).Msg("Reading run history")

	// Open in-memory DuckDB
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, bencherrors.WrapStorageError(err, "history", "open duckdb")
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(summaryQuery, fileList(files)), dataset)
	if err != nil {
		return nil, bencherrors.WrapDecodeError(err, "history", "query run files")
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r         Run
			startedMs int64
		)
		if err := rows.Scan(&r.RunID, &r.Mode, &r.Records, &startedMs, &r.Queries, &r.MeanRecall, &r.MeanANN, &r.MeanExact); err != nil {
			return nil, bencherrors.WrapDecodeError(err, "history", "scan run")
		}
		r.StartedAt = time.UnixMilli(startedMs).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, bencherrors.WrapDecodeError(err, "history", "iterate runs")
	}
	return runs, nil
}

// Render writes runs as an aligned table.
func Render(w io.Writer, runs []Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN ID\tRECORDS\tMODE\tQUERIES\tMEAN RECALL\tAVG ANN\tAVG EXACT\tSPEEDUP")
	for _, r := range runs {
		records := "all"
		if r.Records > 0 {
			records = fmt.Sprint(r.Records)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.4f\t%.6fs\t%.6fs\t%.2fx\n",
			r.StartedAt.Format(time.RFC3339), r.RunID, records, r.Mode, r.Queries,
			r.MeanRecall, r.MeanANN, r.MeanExact, r.Speedup())
	}
	return tw.Flush()
}

func fileList(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + strings.ReplaceAll(f, "'", "''") + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
