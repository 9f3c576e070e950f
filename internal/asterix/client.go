// Package asterix talks to the AsterixDB query service: it submits the
// ingest, index and search statements of a benchmark run and decodes the
// service's JSON responses.
package asterix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/23skdu/annbench/internal/metrics"
	"github.com/rs/zerolog"
)

const formContentType = "application/x-www-form-urlencoded"

// Client submits statements to the query service endpoint. It never retries.
type Client struct {
	endpoint string
	http     *http.Client
	logger   zerolog.Logger
}

// NewClient returns a client for endpoint. A zero timeout leaves requests
// bounded only by the context.
func NewClient(logger zerolog.Logger, endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Endpoint returns the query service URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Execute submits one composite statement.
func (c *Client) Execute(ctx context.Context, statement, clientContextID string) (*Response, error) {
	return c.execute(ctx, "statement", statement, clientContextID)
}

func (c *Client) execute(ctx context.Context, operation, statement, clientContextID string) (*Response, error) {
	form := url.Values{}
	form.Set("statement", statement)
	form.Set("pretty", "false")
	form.Set("client_context_id", clientContextID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, bencherrors.WrapConfigurationError(err, operation, "build request")
	}
	req.Header.Set("Content-Type", formContentType)

	c.logger.Debug().
		Str("operation", operation).
		Str("client_context_id", clientContextID).
		Int("statement_bytes", len(statement)).
		Msg("Submitting statement")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ServiceRoundTripSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ServiceRequestsTotal.WithLabelValues(operation, "transport_error").Inc()
		return nil, bencherrors.WrapServiceError(err, operation, "request failed").WithContext("endpoint", c.endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ServiceRequestsTotal.WithLabelValues(operation, "transport_error").Inc()
		return nil, bencherrors.WrapServiceError(err, operation, "read response")
	}

	out, err := decodeResponse(resp.StatusCode, body)
	if err != nil {
		metrics.ServiceRequestsTotal.WithLabelValues(operation, "error").Inc()
		return nil, bencherrors.WrapServiceError(err, operation, "statement rejected")
	}
	metrics.ServiceRequestsTotal.WithLabelValues(operation, "success").Inc()
	return out, nil
}

func decodeResponse(statusCode int, body []byte) (*Response, error) {
	var out Response
	decodeErr := json.Unmarshal(body, &out)
	out.Raw = body

	if statusCode < 200 || statusCode > 299 {
		return nil, newServiceError(statusCode, &out, body)
	}
	if decodeErr != nil {
		return nil, &ServiceError{
			StatusCode: statusCode,
			Messages:   []string{fmt.Sprintf("malformed response: %v", decodeErr)},
			Body:       string(body),
		}
	}
	if out.Status != StatusSuccess {
		return nil, newServiceError(statusCode, &out, body)
	}
	return &out, nil
}

// ServiceError is a non-success answer from the query service. Body is the
// raw response, kept for diagnosis.
type ServiceError struct {
	StatusCode int
	Status     string
	Messages   []string
	Body       string
}

func newServiceError(statusCode int, r *Response, body []byte) *ServiceError {
	e := &ServiceError{StatusCode: statusCode, Status: r.Status, Body: string(bytes.TrimSpace(body))}
	for _, m := range r.Errors {
		e.Messages = append(e.Messages, m.Msg)
	}
	return e
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "query service returned HTTP %d", e.StatusCode)
	if e.Status != "" {
		fmt.Fprintf(&b, " status %q", e.Status)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Body != "" {
		b.WriteString("\nresponse body:\n")
		b.WriteString(e.Body)
	}
	return b.String()
}
