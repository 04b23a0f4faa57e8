package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytmeta/ytmeta/internal/core/extractor"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeExtractor records calls and writes a canned file on Download
type fakeExtractor struct {
	mu            sync.Mutex
	info          *extractor.Info
	err           error
	filename      string
	body          string
	metadataCalls int
	downloadCalls int
	lastOpts      extractor.DownloadOptions
}

func (f *fakeExtractor) Metadata(ctx context.Context, url string) (*extractor.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func (f *fakeExtractor) Download(ctx context.Context, url string, opts extractor.DownloadOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	f.lastOpts = opts
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(opts.OutputDir, f.filename)
	if err := os.WriteFile(path, []byte(f.body), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// unreachableExtractor fails the test if the server ever touches it
type unreachableExtractor struct{ t *testing.T }

func (u unreachableExtractor) Metadata(context.Context, string) (*extractor.Info, error) {
	u.t.Error("extractor must not be called")
	return nil, errors.New("unreachable")
}

func (u unreachableExtractor) Download(context.Context, string, extractor.DownloadOptions) (string, error) {
	u.t.Error("extractor must not be called")
	return "", errors.New("unreachable")
}

type testEnv struct {
	server    *Server
	outputDir string
	tempDir   string
}

func newTestEnv(t *testing.T, ext extractor.Extractor) *testEnv {
	t.Helper()
	env := &testEnv{
		outputDir: t.TempDir(),
		tempDir:   t.TempDir(),
	}
	env.server = NewServer(ext, Options{
		Addr:      ":0",
		OutputDir: env.outputDir,
		TempDir:   env.tempDir,
	})
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func strPtr(s string) *string { return &s }

func TestHealth(t *testing.T) {
	env := newTestEnv(t, unreachableExtractor{t})

	w := env.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestURLRequired(t *testing.T) {
	bodies := map[string]string{
		"empty object":   `{}`,
		"empty url":      `{"url":""}`,
		"no body":        ``,
		"only quality":   `{"quality":"720p"}`,
		"null":           `null`,
		"url with extra": `{"url":"","foo":1}`,
	}

	for _, route := range []string{"/metadata", "/download"} {
		for name, body := range bodies {
			t.Run(route+"/"+name, func(t *testing.T) {
				env := newTestEnv(t, unreachableExtractor{t})

				w := env.do(http.MethodPost, route, body)

				assert.Equal(t, http.StatusOK, w.Code)
				assert.JSONEq(t, `{"error":"URL is required"}`, w.Body.String())
			})
		}
	}
}

func TestMalformedBody(t *testing.T) {
	for _, route := range []string{"/metadata", "/download"} {
		t.Run(route, func(t *testing.T) {
			env := newTestEnv(t, unreachableExtractor{t})

			w := env.do(http.MethodPost, route, `{"url":`)

			assert.Equal(t, http.StatusOK, w.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, strings.HasPrefix(resp["error"], "invalid request body"), resp["error"])
		})
	}
}

func TestMetadata(t *testing.T) {
	h := func(v float64) *float64 { return &v }
	views := int64(42)
	fake := &fakeExtractor{
		info: &extractor.Info{
			Title:     strPtr("Title"),
			Uploader:  strPtr("Uploader"),
			Duration:  h(61),
			ViewCount: &views,
			Formats: []extractor.Format{
				{Height: h(360)}, {Height: h(720)}, {Height: nil}, {Height: h(360)}, {Height: h(1080)},
			},
		},
	}
	env := newTestEnv(t, fake)

	w := env.do(http.MethodPost, "/metadata", `{"url":"https://example.com/watch?v=1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"title": "Title",
		"uploader": "Uploader",
		"duration": 61,
		"view_count": 42,
		"like_count": null,
		"upload_date": null,
		"description": null,
		"thumbnail": null,
		"available_formats": ["360p", "720p", "1080p"]
	}`, w.Body.String())
	assert.Equal(t, 1, fake.metadataCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.Metrics().requests.WithLabelValues(routeMetadata, outcomeSuccess)))
}

func TestExtractionFailureIsOKWithErrorOnly(t *testing.T) {
	fake := &fakeExtractor{err: &extractor.ExtractionError{
		URL:    "https://example.com/private",
		Stderr: "ERROR: [youtube] private: Private video",
	}}

	for _, tc := range []struct{ route, body string }{
		{"/metadata", `{"url":"https://example.com/private"}`},
		{"/download", `{"url":"https://example.com/private","quality":"720p"}`},
	} {
		t.Run(tc.route, func(t *testing.T) {
			env := newTestEnv(t, fake)

			w := env.do(http.MethodPost, tc.route, tc.body)

			assert.Equal(t, http.StatusOK, w.Code)
			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, map[string]any{"error": "ERROR: [youtube] private: Private video"}, resp)
			assert.Empty(t, dirEntries(t, env.outputDir), "no orphan left in the output dir")
			assert.Empty(t, dirEntries(t, env.tempDir), "work dir removed")
		})
	}
}

// watchingRecorder calls onWrite before every body write
type watchingRecorder struct {
	*httptest.ResponseRecorder
	onWrite func()
}

func (w *watchingRecorder) Write(b []byte) (int, error) {
	if w.onWrite != nil {
		w.onWrite()
	}
	return w.ResponseRecorder.Write(b)
}

func TestDownload(t *testing.T) {
	fake := &fakeExtractor{filename: "My Video.mp4", body: "not-really-a-video"}
	env := newTestEnv(t, fake)

	existedDuringTransfer := false
	w := &watchingRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		onWrite: func() {
			for _, name := range dirEntries(t, env.outputDir) {
				if strings.HasSuffix(name, "-My Video.mp4") {
					existedDuringTransfer = true
				}
			}
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{"url":"https://example.com/v"}`))
	req.Header.Set("Content-Type", "application/json")
	env.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not-really-a-video", w.Body.String())
	assert.Equal(t, VideoContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="My Video.mp4"`, w.Header().Get("Content-Disposition"))

	assert.True(t, existedDuringTransfer, "file must exist while the body is written")
	assert.Empty(t, dirEntries(t, env.outputDir), "file must be deleted after the response")
	assert.Empty(t, dirEntries(t, env.tempDir), "work dir must be removed")

	assert.Equal(t, extractor.FormatSpec(extractor.QualityBest), fake.lastOpts.Format)
	assert.Equal(t, float64(len("not-really-a-video")), testutil.ToFloat64(env.server.Metrics().downloadBytes))
}

func TestDownload_ContentTypeIsAlwaysMP4(t *testing.T) {
	fake := &fakeExtractor{filename: "Song.m4a", body: "audio"}
	env := newTestEnv(t, fake)

	w := env.do(http.MethodPost, "/download", `{"url":"https://example.com/v","quality":"audio"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, VideoContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "bestaudio", fake.lastOpts.Format)
}

func TestDownload_QualityMapping(t *testing.T) {
	tests := []struct {
		quality  string
		expected string
	}{
		{"1080p", "bestvideo[height<=1080]+bestaudio/best[height<=1080]"},
		{"720p", "bestvideo[height<=720]+bestaudio/best[height<=720]"},
		{"480p", "bestvideo[height<=480]+bestaudio/best[height<=480]"},
		{"audio", "bestaudio"},
		{"best", "bv*+ba/b"},
		{"", "bv*+ba/b"},
		{"360p", "bv*+ba/b"},
		{"8k", "bv*+ba/b"},
	}

	for _, tt := range tests {
		t.Run("quality="+tt.quality, func(t *testing.T) {
			fake := &fakeExtractor{filename: "v.mp4", body: "x"}
			env := newTestEnv(t, fake)

			body := `{"url":"https://example.com/v","quality":"` + tt.quality + `"}`
			w := env.do(http.MethodPost, "/download", body)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.expected, fake.lastOpts.Format)
		})
	}
}

func TestDownload_DefaultOutputDirIsWorkingDirectory(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)

	fake := &fakeExtractor{filename: "cwd.mp4", body: "cwd"}
	s := NewServer(fake, Options{TempDir: t.TempDir()})

	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{"url":"https://example.com/v"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cwd", w.Body.String())
	assert.Empty(t, dirEntries(t, wd))
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, unreachableExtractor{t})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/download", nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type, x-custom")
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "content-type, x-custom", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("no origin", func(t *testing.T) {
		w := env.do(http.MethodGet, "/health", "")
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, unreachableExtractor{t})

	w := env.do(http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, unreachableExtractor{t})

	env.do(http.MethodPost, "/metadata", `{}`)
	env.do(http.MethodPost, "/download", `{}`)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.Metrics().requests.WithLabelValues(routeMetadata, outcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.Metrics().requests.WithLabelValues(routeDownload, outcomeInvalid)))

	w := env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ytmeta_requests_total")
}

// blockingExtractor holds Download until release is closed
type blockingExtractor struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingExtractor) Metadata(context.Context, string) (*extractor.Info, error) {
	return &extractor.Info{}, nil
}

func (b *blockingExtractor) Download(ctx context.Context, url string, opts extractor.DownloadOptions) (string, error) {
	close(b.entered)
	<-b.release
	path := filepath.Join(opts.OutputDir, "Slow Video.mp4")
	if err := os.WriteFile(path, []byte("slow-bytes"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func TestStop_WaitsForInFlightDownload(t *testing.T) {
	ext := &blockingExtractor{entered: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnv(t, ext)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- env.server.Serve(ln) }()

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/download", "application/json",
			strings.NewReader(`{"url": "https://example.com/slow"}`))
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		got <- result{body: string(data), err: err}
	}()

	select {
	case <-ext.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stopped <- env.server.Stop(ctx)
	}()

	select {
	case err := <-served:
		t.Fatalf("Serve returned while a download was in flight: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(ext.release)

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after the download finished")
	}
	require.NoError(t, <-stopped)

	res := <-got
	require.NoError(t, res.err)
	assert.Equal(t, "slow-bytes", res.body)
	assert.Empty(t, dirEntries(t, env.outputDir))
	assert.Empty(t, dirEntries(t, env.tempDir))
}

func TestStart_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(unreachableExtractor{t}, Options{Addr: ln.Addr().String()})
	assert.Error(t, srv.Start())
}
