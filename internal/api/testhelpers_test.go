package api_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fcs7/translate-php-tool/internal/api"
	"github.com/fcs7/translate-php-tool/internal/cache"
	"github.com/fcs7/translate-php-tool/internal/config"
	"github.com/fcs7/translate-php-tool/internal/engine"
	"github.com/fcs7/translate-php-tool/internal/events"
	"github.com/fcs7/translate-php-tool/internal/job"
	"github.com/fcs7/translate-php-tool/internal/provider"
)

// stubTranslator translates everything instantly by prefixing the text, so
// job runs driven through the API finish deterministically.
type stubTranslator struct {
	mu      sync.Mutex
	batches int
}

func (s *stubTranslator) TranslateBatch(_ context.Context, texts []string) ([]string, []bool) {
	s.mu.Lock()
	s.batches++
	s.mu.Unlock()

	out := make([]string, len(texts))
	ok := make([]bool, len(texts))
	for i, t := range texts {
		out[i] = "Traduzido " + t
		ok[i] = true
	}
	return out, ok
}

// mockHealthChecker implements api.HealthChecker for testing.
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

type testEnv struct {
	srv      *api.Server
	router   chi.Router
	registry *job.Registry
	hub      *events.Hub
	tr       *stubTranslator
}

// newTestEnv wires a full Server around an in-memory registry and a stub
// translator. maxJobs bounds concurrent live jobs.
func newTestEnv(t *testing.T, maxJobs int) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := job.NewRegistry(maxJobs, nil, log)
	hub := events.NewHub()
	tr := &stubTranslator{}
	eng := engine.New(cache.New(64, nil, log), []provider.Translator{}, log)
	runner := job.NewRunner(tr, registry, hub, nil, 100, 2, log)

	srv := &api.Server{
		Registry: registry,
		Runner:   runner,
		Engine:   eng,
		Hub:      hub,
		Config: &config.Config{
			DataDir:      t.TempDir(),
			DelaySeconds: config.MinDelaySeconds,
		},
	}
	return &testEnv{
		srv:      srv,
		router:   api.NewRouter(srv),
		registry: registry,
		hub:      hub,
		tr:       tr,
	}
}

// multipartUpload builds a multipart body with positional files and paths
// fields plus any extra form values.
func multipartUpload(t *testing.T, files map[string]string, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for path, content := range files {
		fw, err := mw.CreateFormFile("files", path)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
		if err := mw.WriteField("paths", path); err != nil {
			t.Fatalf("write paths field: %v", err)
		}
	}
	for k, v := range extra {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}
