package asterix

import (
	"encoding/json"
	"fmt"
)

// StatusSuccess is the body status of a completed request.
const StatusSuccess = "success"

// Result row keys carrying the record id. Unaliased projections come back
// as "idx", some plans keep the "row." qualifier.
const (
	idKey          = "idx"
	qualifiedIDKey = "row.idx"
)

// Response is the decoded body of a query service reply.
type Response struct {
	RequestID       string            `json:"requestID"`
	ClientContextID string            `json:"clientContextID"`
	Status          string            `json:"status"`
	Results         []json.RawMessage `json:"results"`
	Errors          []Message         `json:"errors"`
	Metrics         Metrics           `json:"metrics"`

	Raw []byte `json:"-"`
}

// Message is one entry of the errors or warnings array.
type Message struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Metrics is the service-side timing block.
type Metrics struct {
	ElapsedTime   string `json:"elapsedTime"`
	ExecutionTime string `json:"executionTime"`
	ResultCount   int64  `json:"resultCount"`
	ResultSize    int64  `json:"resultSize"`
}

// IDs extracts the record id of every result row, in row order.
func (r *Response) IDs() ([]int64, error) {
	ids := make([]int64, 0, len(r.Results))
	for i, raw := range r.Results {
		var row map[string]json.RawMessage
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("result row %d: unexpected row format: %s", i, raw)
		}
		v, ok := row[idKey]
		if !ok {
			v, ok = row[qualifiedIDKey]
		}
		if !ok {
			return nil, fmt.Errorf("result row %d: unexpected row format: %s", i, raw)
		}
		var id int64
		if err := json.Unmarshal(v, &id); err != nil {
			return nil, fmt.Errorf("result row %d: id %s is not an integer", i, v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ExecutionSeconds is metrics.executionTime in seconds. A missing value
// reads as zero.
func (r *Response) ExecutionSeconds() (float64, error) {
	if r.Metrics.ExecutionTime == "" {
		return 0, nil
	}
	return ParseExecutionTime(r.Metrics.ExecutionTime)
}
