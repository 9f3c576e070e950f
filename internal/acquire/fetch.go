// Package acquire downloads raw dataset containers from a mirror.
package acquire

import (
	"context"
	"fmt"
	"io"

	"github.com/23skdu/annbench/internal/artifact"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/metrics"
	"github.com/rs/zerolog"
)

// Result describes the container artifact after a fetch.
type Result struct {
	Path    string
	Bytes   int64
	Existed bool
}

// Fetcher places raw containers under the raw directory.
type Fetcher struct {
	logger zerolog.Logger
	source Source
}

// NewFetcher returns a fetcher reading from source.
func NewFetcher(logger zerolog.Logger, source Source) *Fetcher {
	return &Fetcher{logger: logger, source: source}
}

// Fetch downloads the container of dataset to dest unless dest exists.
// A failed download leaves nothing at dest.
func (f *Fetcher) Fetch(ctx context.Context, dataset, dest string) (Result, error) {
	a := artifact.Artifact{Kind: artifact.KindRawContainer, Path: dest}
	exists, err := a.Exists()
	if err != nil {
		return Result{}, bencherrors.WrapStorageError(err, "acquire", "stat container")
	}
	if exists {
		f.logger.Info().Str("path", dest).Msg("Raw dataset already exists, skipping download")
		metrics.ArtifactsSkippedTotal.WithLabelValues(a.Kind.String()).Inc()
		return Result{Path: dest, Existed: true}, nil
	}

	f.logger.Info().
		Str("dataset", dataset).
		Str("source", f.source.Name()).
		Msg("Downloading raw dataset")

	body, size, err := f.source.Open(ctx, dataset)
	if err != nil {
		return Result{}, bencherrors.WrapServiceError(err, "acquire", "open mirror").WithContext("dataset", dataset)
	}
	defer func() { _ = body.Close() }()

	w, err := artifact.Create(dest)
	if err != nil {
		return Result{}, bencherrors.WrapStorageError(err, "acquire", "create container")
	}
	defer w.Abort()

	n, err := io.Copy(w, body)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, bencherrors.WrapServiceError(err, "acquire", "download").WithContext("bytes", n)
	}
	if size >= 0 && n != size {
		return Result{}, bencherrors.NewServiceError("acquire",
			fmt.Sprintf("short download: got %d of %d bytes", n, size))
	}
	if err := w.Commit(); err != nil {
		return Result{}, bencherrors.WrapStorageError(err, "acquire", "publish container")
	}

	metrics.BytesDownloadedTotal.WithLabelValues(f.source.Name()).Add(float64(n))
	f.logger.Info().Str("path", dest).Int64("bytes", n).Msg("Downloaded raw dataset")
	return Result{Path: dest, Bytes: n}, nil
}
