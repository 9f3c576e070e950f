// Package convert turns a dataset container into newline-delimited JSON
// record streams, one per array.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/23skdu/annbench/internal/artifact"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultChunkRows is how many rows are read from the container per call.
const DefaultChunkRows = 1024

// Targets are the stream artifacts a conversion produces.
type Targets struct {
	Train     artifact.Artifact
	Test      artifact.Artifact
	Neighbors artifact.Artifact
}

// TargetsFor resolves the stream artifacts of dataset.
func TargetsFor(l artifact.Layout, dataset string) Targets {
	return Targets{
		Train:     l.TrainStream(dataset),
		Test:      l.TestStream(dataset),
		Neighbors: l.NeighborsStream(dataset),
	}
}

func (t Targets) all() []target {
	return []target{
		{member: MemberTrain, artifact: t.Train},
		{member: MemberTest, artifact: t.Test},
		{member: MemberNeighbors, artifact: t.Neighbors},
	}
}

type target struct {
	member   string
	artifact artifact.Artifact
}

// StreamStatus is the outcome for one member array.
type StreamStatus int

const (
	StatusWritten StreamStatus = iota
	StatusSkipped              // artifact already present
	StatusAbsent               // member not in the container
)

func (s StreamStatus) String() string {
	switch s {
	case StatusWritten:
		return "written"
	case StatusSkipped:
		return "skipped"
	case StatusAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// StreamResult reports one member's conversion.
type StreamResult struct {
	Member string
	Path   string
	Status StreamStatus
	Rows   int
}

// Converter writes container arrays as record streams.
type Converter struct {
	logger    zerolog.Logger
	chunkRows int
	open      Opener
}

// Opener opens the container at a path.
type Opener func(path string) (ArraySource, error)

func openHDF5(path string) (ArraySource, error) {
	return OpenHDF5(path)
}

// NewConverter returns a converter reading chunkRows rows at a time
// (DefaultChunkRows when chunkRows <= 0).
func NewConverter(logger zerolog.Logger, chunkRows int) *Converter {
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}
	return &Converter{logger: logger, chunkRows: chunkRows, open: openHDF5}
}

// WithOpener replaces the container format reader, HDF5 by default.
func (c *Converter) WithOpener(open Opener) *Converter {
	c.open = open
	return c
}

// Complete reports whether every target stream already exists.
func (t Targets) Complete() (bool, error) {
	for _, tg := range t.all() {
		ok, err := tg.artifact.Exists()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// ConvertFile converts the container at path. When every stream already
// exists the container is not opened at all.
func (c *Converter) ConvertFile(ctx context.Context, path string, targets Targets) ([]StreamResult, error) {
	complete, err := targets.Complete()
	if err != nil {
		return nil, bencherrors.WrapStorageError(err, "convert", "check streams")
	}
	if complete {
		var results []StreamResult
		for _, tg := range targets.all() {
			c.logger.Info().Str("stream", tg.artifact.Path).Msg("Stream already exists, skipping")
			metrics.ArtifactsSkippedTotal.WithLabelValues(tg.artifact.Kind.String()).Inc()
			results = append(results, StreamResult{Member: tg.member, Path: tg.artifact.Path, Status: StatusSkipped})
		}
		return results, nil
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, bencherrors.NewPreconditionError("convert", "raw dataset not found").WithContext("path", path)
		}
		return nil, bencherrors.WrapStorageError(err, "convert", "stat raw dataset")
	}

	c.logger.Info().Str("path", path).Msg("Loading container")
	src, err := c.open(path)
	if err != nil {
		return nil, bencherrors.WrapDecodeError(err, "convert", "open container")
	}
	defer func() { _ = src.Close() }()

	return c.Convert(ctx, src, targets)
}

// Convert writes every present member whose stream does not exist yet.
func (c *Converter) Convert(ctx context.Context, src ArraySource, targets Targets) ([]StreamResult, error) {
	results := make([]StreamResult, 0, 3)

	for _, tg := range targets.all() {
		res := StreamResult{Member: tg.member, Path: tg.artifact.Path}

		exists, err := tg.artifact.Exists()
		if err != nil {
			return results, bencherrors.WrapStorageError(err, "convert", "check stream")
		}
		if exists {
			c.logger.Info().Str("stream", tg.artifact.Path).Msg("Stream already exists, skipping")
			metrics.ArtifactsSkippedTotal.WithLabelValues(tg.artifact.Kind.String()).Inc()
			res.Status = StatusSkipped
			results = append(results, res)
			continue
		}

		present, err := src.Has(tg.member)
		if err != nil {
			return results, bencherrors.WrapDecodeError(err, "convert", "inspect container")
		}
		if !present {
			c.logger.Warn().Str("member", tg.member).Msg("Array not found in container, skipping")
			res.Status = StatusAbsent
			results = append(results, res)
			continue
		}

		c.logger.Info().
			Str("member", tg.member).
			Str("stream", tg.artifact.Path).
			Msg("Converting array")

		rows, err := c.convertMember(ctx, src, tg)
		if err != nil {
			return results, err
		}
		metrics.RecordsWrittenTotal.WithLabelValues(tg.artifact.Kind.String()).Add(float64(rows))
		res.Status = StatusWritten
		res.Rows = rows
		results = append(results, res)
	}

	return results, nil
}

func (c *Converter) convertMember(ctx context.Context, src ArraySource, tg target) (int, error) {
	arr, err := src.Open(tg.member)
	if err != nil {
		return 0, bencherrors.WrapDecodeError(err, "convert", "open array").WithContext("member", tg.member)
	}
	defer func() { _ = arr.Close() }()

	w, err := artifact.Create(tg.artifact.Path)
	if err != nil {
		return 0, bencherrors.WrapStorageError(err, "convert", "create stream")
	}
	defer w.Abort()

	var rows int
	if tg.member == MemberNeighbors {
		rows, err = c.writeNeighbors(ctx, arr, json.NewEncoder(w))
	} else {
		rows, err = c.writeVectors(ctx, arr, json.NewEncoder(w))
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, bencherrors.WrapDecodeError(err, "convert", "write stream").WithContext("member", tg.member)
	}

	if err := w.Commit(); err != nil {
		return 0, bencherrors.WrapStorageError(err, "convert", "publish stream")
	}
	return rows, nil
}

func (c *Converter) writeVectors(ctx context.Context, arr Array, enc *json.Encoder) (int, error) {
	rows, cols := arr.Shape()
	buf := make([]float64, c.chunkRows*cols)

	for start := 0; start < rows; start += c.chunkRows {
		if err := ctx.Err(); err != nil {
			return start, err
		}
		n := min(c.chunkRows, rows-start)
		if err := arr.ReadFloats(start, n, buf); err != nil {
			return start, err
		}
		for i := 0; i < n; i++ {
			rec := VectorRecord{Idx: start + i, Embedding: buf[i*cols : (i+1)*cols]}
			if err := enc.Encode(&rec); err != nil {
				return start + i, fmt.Errorf("encode row %d: %w", start+i, err)
			}
		}
	}
	return rows, nil
}

func (c *Converter) writeNeighbors(ctx context.Context, arr Array, enc *json.Encoder) (int, error) {
	rows, cols := arr.Shape()
	buf := make([]int64, c.chunkRows*cols)

	for start := 0; start < rows; start += c.chunkRows {
		if err := ctx.Err(); err != nil {
			return start, err
		}
		n := min(c.chunkRows, rows-start)
		if err := arr.ReadInts(start, n, buf); err != nil {
			return start, err
		}
		for i := 0; i < n; i++ {
			rec := NeighborRecord{Idx: start + i, Neighbors: buf[i*cols : (i+1)*cols]}
			if err := enc.Encode(&rec); err != nil {
				return start + i, fmt.Errorf("encode row %d: %w", start+i, err)
			}
		}
	}
	return rows, nil
}
