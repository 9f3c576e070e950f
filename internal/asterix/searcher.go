package asterix

import (
	"bytes"
	"context"
	"encoding/json"

	bencherrors "github.com/23skdu/annbench/internal/errors"
)

// QueryResult is the outcome of one search call.
type QueryResult struct {
	IDs            []int64
	ElapsedSeconds float64
}

// Searcher runs top-k searches against one dataset over both paths.
type Searcher struct {
	client          *Client
	statements      Statements
	dataset         string
	clientContextID string
}

// Dataset is the service-side dataset name searched.
func (s *Searcher) Dataset() string {
	return s.dataset
}

// ANN searches through the vector index.
func (s *Searcher) ANN(ctx context.Context, target []float64, k int) (QueryResult, error) {
	return s.search(ctx, "ann", ANNDistance, target, k)
}

// Exact searches by scanning every record.
func (s *Searcher) Exact(ctx context.Context, target []float64, k int) (QueryResult, error) {
	return s.search(ctx, "exact", ExactDistance, target, k)
}

func (s *Searcher) search(ctx context.Context, path, distance string, target []float64, k int) (QueryResult, error) {
	resp, err := s.client.execute(ctx, path, s.statements.Search(distance, s.dataset, target, k), s.clientContextID)
	if err != nil {
		return QueryResult{}, err
	}
	ids, err := resp.IDs()
	if err != nil {
		return QueryResult{}, bencherrors.WrapServiceError(err, path, "decode results").
			WithContext("body", string(resp.Raw))
	}
	elapsed, err := resp.ExecutionSeconds()
	if err != nil {
		return QueryResult{}, bencherrors.WrapServiceError(err, path, "decode execution time")
	}
	return QueryResult{IDs: ids, ElapsedSeconds: elapsed}, nil
}

// compactJSON strips insignificant whitespace for logging; invalid input is
// returned as a JSON string.
func compactJSON(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		quoted, _ := json.Marshal(string(raw))
		return quoted
	}
	return buf.Bytes()
}
