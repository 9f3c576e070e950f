// Package asterixtest provides an in-process stand-in for the AsterixDB
// query service. It understands the statements the asterix package sends:
// it loads JSON lines from the localfs path, builds an HNSW graph on
// CREATE VECTOR INDEX, answers ann_distance from the graph and
// vector_distance by brute force.
package asterixtest

import (
	"bufio"
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"
)

// Statement kinds recognized by the server.
const (
	KindIngest  = "ingest"
	KindIndex   = "index"
	KindANN     = "ann"
	KindExact   = "exact"
	KindUnknown = "unknown"
)

var (
	createDatasetRe = regexp.MustCompile(`CREATE DATASET (\w+)`)
	loadPathRe      = regexp.MustCompile(`\("path"\s*=\s*"[^":]*://([^"]+)"\)`)
	createIndexRe   = regexp.MustCompile(`CREATE VECTOR INDEX \w+ ON (\w+)\(embedding VECTOR\)`)
	dimensionRe     = regexp.MustCompile(`"dimension":\s*(\d+)`)
	targetRe        = regexp.MustCompile(`LET target=\[([^\]]*)\]`)
	fromRe          = regexp.MustCompile(`FROM (\w+) row`)
	distanceRe      = regexp.MustCompile(`LET dist = (\w+)\(`)
	limitRe         = regexp.MustCompile(`LIMIT (\d+);`)
)

// Request is one statement as received.
type Request struct {
	Kind            string
	Statement       string
	ClientContextID string
}

// Failure scripts a non-success reply.
type Failure struct {
	StatusCode int
	Body       string
}

type record struct {
	Idx       int64     `json:"idx"`
	Embedding []float64 `json:"embedding"`
}

type dataset struct {
	records   []record
	dimension int
	index     *hnsw.Graph[int64]
}

// Server is a fake query service. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	datasets map[string]*dataset
	requests []Request
	failures map[string][]Failure
	times    map[string]string
}

// New starts a server. Callers Close it.
func New() *Server {
	s := &Server{
		datasets: make(map[string]*dataset),
		failures: make(map[string][]Failure),
		times: map[string]string{
			KindANN:   "1.5ms",
			KindExact: "12ms",
		},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Endpoint is the query service URL of the server.
func (s *Server) Endpoint() string {
	return s.URL + "/query/service"
}

// SetExecutionTime sets the executionTime reported for statements of kind.
func (s *Server) SetExecutionTime(kind, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times[kind] = value
}

// FailNext makes the next statement of kind fail with f.
func (s *Server) FailNext(kind string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind] = append(s.failures[kind], f)
}

// Requests returns every statement received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Count returns how many statements of kind were received.
func (s *Server) Count(kind string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// Records returns how many records dataset holds, -1 when it does not exist.
func (s *Server) Records(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return -1
	}
	return len(ds.records)
}

// Indexed reports whether dataset has a vector index.
func (s *Server) Indexed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	return ok && ds.index != nil
}

func classify(stmt string) string {
	switch {
	case strings.Contains(stmt, "LOAD DATASET"):
		return KindIngest
	case strings.Contains(stmt, "CREATE VECTOR INDEX"):
		return KindIndex
	case strings.Contains(stmt, "ann_distance("):
		return KindANN
	case strings.Contains(stmt, "vector_distance("):
		return KindExact
	default:
		return KindUnknown
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stmt := r.PostForm.Get("statement")
	req := Request{Kind: classify(stmt), Statement: stmt, ClientContextID: r.PostForm.Get("client_context_id")}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var failure *Failure
	if queued := s.failures[req.Kind]; len(queued) > 0 {
		failure = &queued[0]
		s.failures[req.Kind] = queued[1:]
	}
	execTime := s.times[req.Kind]
	s.mu.Unlock()

	if failure != nil {
		w.WriteHeader(failure.StatusCode)
		_, _ = w.Write([]byte(failure.Body))
		return
	}

	var (
		results []map[string]any
		err     error
	)
	switch req.Kind {
	case KindIngest:
		err = s.ingest(stmt)
	case KindIndex:
		err = s.createIndex(stmt)
	case KindANN, KindExact:
		results, err = s.search(req.Kind, stmt)
	default:
		err = fmt.Errorf("unsupported statement")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if execTime == "" {
		execTime = "0.5ms"
	}
	if results == nil {
		results = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requestID":       uuid.NewString(),
		"clientContextID": req.ClientContextID,
		"status":          "success",
		"results":         results,
		"metrics": map[string]any{
			"elapsedTime":   execTime,
			"executionTime": execTime,
			"resultCount":   len(results),
		},
	})
}

func (s *Server) ingest(stmt string) error {
	name := match(createDatasetRe, stmt)
	path := match(loadPathRe, stmt)
	if name == "" || path == "" {
		return fmt.Errorf("malformed load statement")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("localfs: %w", err)
	}
	defer func() { _ = f.Close() }()

	ds := &dataset{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	for sc.Scan() {
		var rec record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("parse record: %w", err)
		}
		ds.records = append(ds.records, rec)
	}
	if err := sc.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The dataverse is recreated on every load.
	s.datasets = map[string]*dataset{name: ds}
	return nil
}

func (s *Server) createIndex(stmt string) error {
	name := match(createIndexRe, stmt)
	dim, _ := strconv.Atoi(match(dimensionRe, stmt))

	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return fmt.Errorf("cannot find dataset with name %s", name)
	}

	g := hnsw.NewGraph[int64]()
	g.Distance = hnsw.EuclideanDistance
	nodes := make([]hnsw.Node[int64], 0, len(ds.records))
	for _, rec := range ds.records {
		if len(rec.Embedding) != dim {
			return fmt.Errorf("record %d has dimension %d, index declares %d", rec.Idx, len(rec.Embedding), dim)
		}
		nodes = append(nodes, hnsw.MakeNode(rec.Idx, toFloat32(rec.Embedding)))
	}
	g.Add(nodes...)
	ds.index = g
	ds.dimension = dim
	return nil
}

func (s *Server) search(kind, stmt string) ([]map[string]any, error) {
	name := match(fromRe, stmt)
	k, err := strconv.Atoi(match(limitRe, stmt))
	if err != nil {
		return nil, fmt.Errorf("missing LIMIT")
	}
	target, err := parseVector(match(targetRe, stmt))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	if !ok {
		return nil, fmt.Errorf("cannot find dataset with name %s", name)
	}

	var ids []int64
	if kind == KindANN {
		if ds.index == nil {
			return nil, fmt.Errorf("no vector index on %s", name)
		}
		for _, n := range ds.index.Search(toFloat32(target), k) {
			ids = append(ids, n.Key)
		}
	} else {
		ids = bruteForce(ds.records, target, k)
	}

	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]any{"idx": id})
	}
	return rows, nil
}

func bruteForce(records []record, target []float64, k int) []int64 {
	type scored struct {
		id   int64
		dist float64
	}
	all := make([]scored, 0, len(records))
	for _, rec := range records {
		var sum float64
		for i := range target {
			d := rec.Embedding[i] - target[i]
			sum += d * d
		}
		all = append(all, scored{id: rec.Idx, dist: math.Sqrt(sum)})
	}
	slices.SortFunc(all, func(a, b scored) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	ids := make([]int64, 0, min(k, len(all)))
	for _, s := range all[:min(k, len(all))] {
		ids = append(ids, s.id)
	}
	return ids
}

func parseVector(s string) ([]float64, error) {
	var out []float64
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("bad vector literal %q", tok)
		}
		out = append(out, v)
	}
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func match(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"requestID": uuid.NewString(),
		"errors":    []map[string]any{{"code": 1, "msg": msg}},
		"status":    "fatal",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
