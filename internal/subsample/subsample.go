// Package subsample derives a size-bounded prefix of a training stream.
package subsample

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/23skdu/annbench/internal/artifact"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/metrics"
	"github.com/rs/zerolog"
)

// Result describes the subsample artifact after a call.
type Result struct {
	// Count is the number of lines written, or the requested size when the
	// artifact already existed.
	Count int
	// Existed is true when the call was a no-op.
	Existed bool
	// Shortfall is true when the input had fewer than the requested lines.
	Shortfall bool
}

// Subsample copies the first n lines of inputPath to outputPath verbatim.
// An existing outputPath makes the call a no-op.
func Subsample(logger zerolog.Logger, inputPath, outputPath string, n int) (Result, error) {
	if n <= 0 {
		return Result{}, bencherrors.NewUsageError("subsample", fmt.Sprintf("record count must be positive, got %d", n))
	}

	if _, err := os.Stat(inputPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, bencherrors.NewPreconditionError("subsample", "input file not found").
				WithContext("path", inputPath)
		}
		return Result{}, bencherrors.WrapStorageError(err, "subsample", "stat input")
	}

	out := artifact.Artifact{Kind: artifact.KindSubsampleStream, Path: outputPath, Records: n}
	exists, err := out.Exists()
	if err != nil {
		return Result{}, bencherrors.WrapStorageError(err, "subsample", "stat output")
	}
	if exists {
		logger.Info().Str("output", outputPath).Msg("Subdataset already exists, skipping creation")
		metrics.ArtifactsSkippedTotal.WithLabelValues(out.Kind.String()).Inc()
		return Result{Count: n, Existed: true}, nil
	}

	logger.Info().
		Int("records", n).
		Str("input", inputPath).
		Str("output", outputPath).
		Msg("Creating subdataset")

	in, err := os.Open(inputPath)
	if err != nil {
		return Result{}, bencherrors.WrapStorageError(err, "subsample", "open input")
	}
	defer func() { _ = in.Close() }()

	w, err := artifact.Create(outputPath)
	if err != nil {
		return Result{}, bencherrors.WrapStorageError(err, "subsample", "create output")
	}
	defer w.Abort()

	count, err := copyLines(w, bufio.NewReaderSize(in, 1<<20), n)
	if err != nil {
		return Result{}, bencherrors.WrapStorageError(err, "subsample", "copy lines")
	}
	if err := w.Commit(); err != nil {
		return Result{}, bencherrors.WrapStorageError(err, "subsample", "publish output")
	}
	metrics.RecordsWrittenTotal.WithLabelValues(artifact.KindSubsampleStream.String()).Add(float64(count))

	res := Result{Count: count, Shortfall: count < n}
	logger.Info().Int("records", count).Msg("Created subdataset")
	if res.Shortfall {
		logger.Warn().
			Int("available", count).
			Int("requested", n).
			Msg("Fewer records available than requested")
	}
	return res, nil
}

// copyLines copies up to n newline-terminated lines. A final line without a
// trailing newline counts as a line and is copied as is.
func copyLines(dst io.Writer, src *bufio.Reader, n int) (int, error) {
	count := 0
	for count < n {
		line, err := src.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			// Long line: keep copying until its newline.
			if _, werr := dst.Write(line); werr != nil {
				return count, werr
			}
			continue
		}
		if len(line) > 0 {
			if _, werr := dst.Write(line); werr != nil {
				return count, werr
			}
			if line[len(line)-1] == '\n' || errors.Is(err, io.EOF) {
				count++
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
	}
	return count, nil
}
