package asterix

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/23skdu/annbench/internal/artifact"
	"github.com/23skdu/annbench/internal/config"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/rs/zerolog"
)

// IngestRequest loads one stream into a fresh dataverse. The stream is
// expected to exist; callers check.
type IngestRequest struct {
	Run  artifact.Run
	Path string
}

// IndexRequest builds the vector index of a loaded run. Dimension 0 means
// infer it from the dataset name.
type IndexRequest struct {
	Run       artifact.Run
	Centroids int
	Dimension int
}

// Requester issues the ingest and index statements of a run.
type Requester struct {
	client     *Client
	statements Statements
	logger     zerolog.Logger
}

// StatementsFromConfig maps configuration onto statement parameters.
func StatementsFromConfig(cfg *config.Config) Statements {
	return Statements{
		Dataverse:  cfg.Dataverse,
		IndexName:  cfg.IndexName,
		LoaderHost: cfg.LoaderHost,
		Similarity: cfg.Similarity,
		TrainList:  cfg.TrainList,
	}
}

// NewRequester returns a requester rendering statements with stmts.
func NewRequester(logger zerolog.Logger, client *Client, stmts Statements) *Requester {
	return &Requester{client: client, statements: stmts, logger: logger}
}

// Ingest recreates the dataverse and bulk-loads req.Path. Any other dataset
// in the dataverse is dropped with it.
func (r *Requester) Ingest(ctx context.Context, req IngestRequest) (*Response, error) {
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		return nil, bencherrors.WrapPreconditionError(err, "ingest", "resolve stream path")
	}
	name := req.Run.AsterixName()

	r.logger.Info().
		Str("dataset", req.Run.Dataset).
		Str("asterix_dataset", name).
		Str("path", r.statements.LoaderHost+"://"+filepath.ToSlash(abs)).
		Msg("Loading dataset")

	resp, err := r.client.execute(ctx, "ingest", r.statements.Ingest(name, abs), "load_"+req.Run.ReportPrefix())
	if err != nil {
		return nil, err
	}
	r.logger.Debug().RawJSON("response", compactJSON(resp.Raw)).Msg("Ingest response")
	return resp, nil
}

// CreateIndex replaces the run's vector index.
func (r *Requester) CreateIndex(ctx context.Context, req IndexRequest) (*Response, error) {
	if req.Centroids <= 0 {
		return nil, bencherrors.NewUsageError("index", fmt.Sprintf("centroid count must be positive, got %d", req.Centroids))
	}
	dim := req.Dimension
	if dim <= 0 {
		var err error
		if dim, err = InferDimension(req.Run.Dataset); err != nil {
			return nil, err
		}
	}
	name := req.Run.AsterixName()

	r.logger.Info().
		Str("asterix_dataset", name).
		Int("dimension", dim).
		Int("num_k", req.Centroids).
		Str("similarity", r.statements.Similarity).
		Msg("Creating vector index")

	resp, err := r.client.execute(ctx, "index", r.statements.CreateIndex(name, dim, req.Centroids), "create_idx_"+req.Run.ReportPrefix())
	if err != nil {
		return nil, err
	}
	r.logger.Debug().RawJSON("response", compactJSON(resp.Raw)).Msg("Index response")
	return resp, nil
}

// Searcher returns the query paths for run.
func (r *Requester) Searcher(run artifact.Run, clientContextID string) *Searcher {
	return &Searcher{
		client:          r.client,
		statements:      r.statements,
		dataset:         run.AsterixName(),
		clientContextID: clientContextID,
	}
}
