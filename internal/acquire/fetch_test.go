package acquire

import (
	"context"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/23skdu/annbench/internal/config"
	bencherrors "github.com/23skdu/annbench/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "\x89HDF\r\n\x1a\ncontainer-bytes"

func mirror(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		if r.URL.Path != "/mirror/x-2-euclidean.hdf5" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_HTTPMirror(t *testing.T) {
	var hits int
	srv := mirror(t, &hits)
	src, err := NewHTTPSource(srv.URL+"/mirror", srv.Client())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "raw", "x-2-euclidean.hdf5")
	f := NewFetcher(zerolog.Nop(), src)

	res, err := f.Fetch(context.Background(), "x-2-euclidean", dest)
	require.NoError(t, err)
	assert.False(t, res.Existed)
	assert.Equal(t, int64(len(payload)), res.Bytes)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	// Present artifact: no request is made.
	res, err = f.Fetch(context.Background(), "x-2-euclidean", dest)
	require.NoError(t, err)
	assert.True(t, res.Existed)
	assert.Equal(t, 1, hits)
}

func TestFetch_NotFoundIsServiceError(t *testing.T) {
	var hits int
	srv := mirror(t, &hits)
	src, err := NewHTTPSource(srv.URL+"/mirror", srv.Client())
	require.NoError(t, err)

	dir := t.TempDir()
	dest := filepath.Join(dir, "missing.hdf5")
	_, err = NewFetcher(zerolog.Nop(), src).Fetch(context.Background(), "missing", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, bencherrors.ExitService, bencherrors.ExitCode(err))
	assert.NoFileExists(t, dest)
}

func TestFetch_TruncatedBodyLeavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = io.WriteString(w, "short")
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL, srv.Client())
	require.NoError(t, err)

	dir := t.TempDir()
	dest := filepath.Join(dir, "x.hdf5")
	_, err = NewFetcher(zerolog.Nop(), src).Fetch(context.Background(), "x", dest)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHTTPSource_URL(t *testing.T) {
	src, err := NewHTTPSource("https://ann-benchmarks.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://ann-benchmarks.com/glove-25-angular.hdf5", src.URL("glove-25-angular"))

	_, err = NewHTTPSource("ftp://example.com", nil)
	assert.Error(t, err)
}

// caBundle writes the certificate of srv as a PEM bundle.
func caBundle(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(path, block, 0o600))
	return path
}

func TestFetch_S3Mirror(t *testing.T) {
	var gotPath string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if !strings.HasSuffix(r.URL.Path, "/x.hdf5") {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", "5")
		_, _ = io.WriteString(w, "hdf5!")
	}))
	defer srv.Close()
	// The test server is trusted only through the SDK's CA bundle setting.
	t.Setenv("AWS_CA_BUNDLE", caBundle(t, srv))
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	cfg := config.DefaultConfig()
	cfg.HTTPTimeout = 5 * time.Second
	cfg.MirrorS3 = config.S3Config{
		Bucket:          "datasets",
		Prefix:          "ann/",
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	}

	src, err := NewSource(context.Background(), &cfg)
	require.NoError(t, err)
	require.Equal(t, "s3", src.Name())
	assert.Equal(t, "ann/x.hdf5", src.(*S3Source).Key("x"))

	dest := filepath.Join(t.TempDir(), "x.hdf5")
	res, err := NewFetcher(zerolog.Nop(), src).Fetch(context.Background(), "x", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Bytes)
	assert.Equal(t, "/datasets/ann/x.hdf5", gotPath)

	_, err = NewFetcher(zerolog.Nop(), src).Fetch(context.Background(), "y", filepath.Join(t.TempDir(), "y.hdf5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewSource_DefaultsToHTTP(t *testing.T) {
	cfg := config.DefaultConfig()
	src, err := NewSource(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Equal(t, "http", src.Name())
}
