package evaluate

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"

	bencherrors "github.com/23skdu/annbench/internal/errors"
)

type queryLine struct {
	Embedding []float64 `json:"embedding"`
}

type truthLine struct {
	Neighbors []int64 `json:"neighbors"`
}

// LoadQueries reads up to limit query vectors from a test stream, in file
// order. limit <= 0 reads every line.
func LoadQueries(path string, limit int) ([][]float64, error) {
	var out [][]float64
	err := eachLine(path, "load_queries", limit, func(line []byte) error {
		var q queryLine
		if err := json.Unmarshal(line, &q); err != nil {
			return err
		}
		out = append(out, q.Embedding)
		return nil
	})
	return out, err
}

// LoadGroundTruth reads up to limit reference neighbor lists, each cut to
// its first topK ids. Shorter lists are kept whole.
func LoadGroundTruth(path string, limit, topK int) ([][]int64, error) {
	var out [][]int64
	err := eachLine(path, "load_ground_truth", limit, func(line []byte) error {
		var t truthLine
		if err := json.Unmarshal(line, &t); err != nil {
			return err
		}
		out = append(out, Truncate(t.Neighbors, topK))
		return nil
	})
	return out, err
}

// Truncate returns the first k ids, or all of them when there are fewer.
func Truncate(ids []int64, k int) []int64 {
	if k >= 0 && len(ids) > k {
		return ids[:k:k]
	}
	return ids
}

// eachLine streams the non-empty lines of path to fn.
func eachLine(path, operation string, limit int, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return bencherrors.NewPreconditionError(operation, "file not found").WithContext("path", path)
		}
		return bencherrors.WrapStorageError(err, operation, "open")
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	lineNo, n := 0, 0
	for limit <= 0 || n < limit {
		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if trimmed := trimEOL(line); len(trimmed) > 0 {
				if err := fn(trimmed); err != nil {
					return bencherrors.WrapDecodeError(err, operation, "malformed record").
						WithContext("path", path).
						WithContext("line", lineNo)
				}
				n++
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return bencherrors.WrapStorageError(readErr, operation, "read")
		}
	}
	return nil
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
