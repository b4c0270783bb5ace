package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/config"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/media"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/metrics"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/pipeline"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/store"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/transcription"
)

type fakeRunner struct {
	result *pipeline.Result
	err    error
	// started, when set, is closed on entry and Run blocks until ctx is done.
	started chan struct{}

	mu       sync.Mutex
	requests []pipeline.Request
	ctxErr   error
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		<-ctx.Done()
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
		return nil, &pipeline.RunError{Filename: req.Source.Filename, Chunk: 1, Persisted: 1, Err: ctx.Err()}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) GetStats() pipeline.Stats {
	return pipeline.Stats{RunsStarted: uint64(len(f.requests))}
}

type fakeClientStats struct{}

func (fakeClientStats) GetStats() transcription.ClientStats {
	return transcription.ClientStats{TotalRequests: 7, SuccessRequests: 7, SuccessRate: 100}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, runner *fakeRunner, mutate func(*config.Config)) (*HTTPServer, *store.FileStore) {
	t.Helper()

	cfg := config.Default()
	cfg.Transcription.APIKey = "test-key"
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "transcriptions.json"), testLogger())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	return NewHTTPServer(cfg, testLogger(), runner, st, fakeClientStats{}, metrics.NewMetrics()), st
}

func uploadRequest(t *testing.T, target, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		part.Write(data)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func chunkedResult() *pipeline.Result {
	return &pipeline.Result{
		RunID:    "run-1",
		Filename: "talk.mp3",
		Mode:     store.ModeChunked,
		Text:     "A\nB\nC",
		Chunks:   []string{"A", "B", "C"},
		Duration: 150,
	}
}

func TestTranscribeUpload(t *testing.T) {
	runner := &fakeRunner{result: chunkedResult()}
	srv, _ := newTestServer(t, runner, nil)

	req := uploadRequest(t, "/api/v1/transcriptions", "talk.mp3", []byte("ID3data"), map[string]string{
		"language":     "ms",
		"instructions": "  Keep names.  ",
	})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]interface{})
	if !ok || body["status"] != "success" {
		t.Fatalf("Unexpected envelope %v", body)
	}
	if data["transcript"] != "A\nB\nC" || data["mode"] != "chunked" {
		t.Errorf("Unexpected data %v", data)
	}

	if len(runner.requests) != 1 {
		t.Fatalf("Expected one run, got %d", len(runner.requests))
	}
	got := runner.requests[0]
	if got.Source.Filename != "talk.mp3" || string(got.Source.Data) != "ID3data" {
		t.Errorf("Upload not forwarded: %+v", got.Source)
	}
	if got.Language != "ms" || got.Instructions != "Keep names." {
		t.Errorf("Unexpected request options %+v", got)
	}
}

func TestTranscribeDefaultsLanguage(t *testing.T) {
	runner := &fakeRunner{result: chunkedResult()}
	srv, _ := newTestServer(t, runner, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/transcriptions", "talk.mp3", []byte("x"), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if runner.requests[0].Language != "en" {
		t.Errorf("Expected default language en, got %s", runner.requests[0].Language)
	}
}

func TestTranscribeTextDownload(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{result: chunkedResult()}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/transcriptions?format=text", "talk.mp3", []byte("x"), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "A\nB\nC" {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="transcription.txt"`) {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Unexpected Content-Type %q", ct)
	}
}

func TestTranscribeValidation(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		fields   map[string]string
		contains string
	}{
		{
			name:     "missing file",
			contains: "file field is required",
		},
		{
			name:     "wrong extension",
			filename: "talk.wav",
			data:     []byte("x"),
			contains: "only .mp3 uploads are supported",
		},
		{
			name:     "unsupported language",
			filename: "talk.mp3",
			data:     []byte("x"),
			fields:   map[string]string{"language": "xx"},
			contains: `unsupported language \"xx\"`,
		},
		{
			name:     "instructions too long",
			filename: "talk.mp3",
			data:     []byte("x"),
			fields:   map[string]string{"instructions": strings.Repeat("a", 2001)},
			contains: "instructions must be at most 2000 characters",
		},
		{
			name:     "empty file",
			filename: "talk.mp3",
			data:     nil,
			contains: "is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{result: chunkedResult()}
			srv, _ := newTestServer(t, runner, nil)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/transcriptions", tt.filename, tt.data, tt.fields))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("Expected body to contain %q, got %s", tt.contains, rec.Body.String())
			}
			if len(runner.requests) != 0 {
				t.Errorf("Invalid upload must not start a run")
			}
		})
	}
}

func TestTranscribeErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{
			name:   "run in progress",
			err:    &pipeline.RunError{Filename: "talk.mp3", Chunk: -1, Err: pipeline.ErrRunInProgress},
			status: http.StatusConflict,
		},
		{
			name:   "transcode failure",
			err:    &pipeline.RunError{Filename: "talk.mp3", Chunk: 2, Err: &media.TranscodeError{Op: "extract", Diagnostic: "Invalid data", Err: errors.New("exit status 1")}},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "service failure",
			err:    &pipeline.RunError{Filename: "talk.mp3", Chunk: 0, Err: &transcription.ServiceError{StatusCode: 503, Message: "overloaded"}},
			status: http.StatusBadGateway,
		},
		{
			name:   "store failure",
			err:    &pipeline.RunError{Filename: "talk.mp3", Chunk: 1, Err: &store.StoreError{Op: "append", Err: errors.New("disk full")}},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeRunner{err: tt.err}, nil)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/transcriptions", "talk.mp3", []byte("x"), nil))

			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
			body := decodeBody(t, rec)
			if body["status"] != "error" || body["message"] != tt.err.Error() {
				t.Errorf("Expected verbatim error message, got %v", body)
			}
		})
	}
}

func TestTranscribeClientGoneRecordsStatus(t *testing.T) {
	runner := &fakeRunner{err: &pipeline.RunError{Filename: "talk.mp3", Chunk: 1, Persisted: 1, Err: context.Canceled}}
	srv, _ := newTestServer(t, runner, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/transcriptions", "talk.mp3", []byte("x"), nil))

	if rec.Code != statusClientClosedRequest {
		t.Errorf("Expected %d, got %d", statusClientClosedRequest, rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected no body, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `transcribe_http_requests_total{endpoint="/api/v1/transcriptions",method="POST",status_code="499"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("Expected %s in metrics output", want)
	}
}

func TestStopCancelsInFlightRuns(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	srv, _ := newTestServer(t, runner, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go srv.server.Serve(ln)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "talk.mp3")
	part.Write([]byte("ID3data"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, "http://"+ln.Addr().String()+"/api/v1/transcriptions", &body)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	type outcome struct {
		status int
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		resp.Body.Close()
		done <- outcome{status: resp.StatusCode}
	}()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := srv.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error from Stop, got %v", err)
	}

	runner.mu.Lock()
	ctxErr := runner.ctxErr
	runner.mu.Unlock()
	if !errors.Is(ctxErr, context.Canceled) {
		t.Errorf("Expected the run to observe cancellation, got %v", ctxErr)
	}

	select {
	case out := <-done:
		// The connection may be closed before the response is flushed.
		if out.err == nil && out.status != http.StatusServiceUnavailable {
			t.Errorf("Expected 503 during shutdown, got %d", out.status)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("Client request never returned")
	}
}

func TestTranscribeRequiresToken(t *testing.T) {
	runner := &fakeRunner{result: chunkedResult()}
	srv, _ := newTestServer(t, runner, func(c *config.Config) { c.Server.AccessToken = "s3cret" })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/transcriptions", "talk.mp3", []byte("x"), nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}

	req := uploadRequest(t, "/api/v1/transcriptions", "talk.mp3", []byte("x"), nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong token, got %d", rec.Code)
	}

	req = uploadRequest(t, "/api/v1/transcriptions", "talk.mp3", []byte("x"), nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rec.Code)
	}

	// Ops endpoints stay open
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected open /health, got %d", rec.Code)
	}
}

func TestTranscribeMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transcriptions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestTranscripts(t *testing.T) {
	srv, st := newTestServer(t, &fakeRunner{}, nil)
	ctx := context.Background()

	if _, err := st.Put(ctx, "short.mp3", "run-a", store.ModeSingle, []string{"hello"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	for i, text := range []string{"A", "B"} {
		if _, err := st.AppendChunk(ctx, "long.mp3", "run-b", i, text); err != nil {
			t.Fatalf("AppendChunk failed: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transcripts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	if data["total"].(float64) != 2 {
		t.Errorf("Expected 2 transcripts, got %v", data["total"])
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transcripts/long.mp3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	detail := decodeBody(t, rec)["data"].(map[string]interface{})
	if detail["transcript"] != "A\nB" || detail["run_id"] != "run-b" {
		t.Errorf("Unexpected detail %v", detail)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transcripts/short.mp3?format=text", nil))
	if rec.Body.String() != "hello" {
		t.Errorf("Expected plain text download, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transcripts/missing.mp3", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestLanguages(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/languages", nil))

	data := decodeBody(t, rec)["data"].(map[string]interface{})
	if data["default"] != "en" {
		t.Errorf("Expected default en, got %v", data["default"])
	}
	if langs := data["languages"].([]interface{}); len(langs) != len(transcription.Languages()) {
		t.Errorf("Expected %d languages, got %d", len(transcription.Languages()), len(langs))
	}
}

func TestOpsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, func(c *config.Config) {
		c.Server.AccessToken = "hidden-token"
	})

	for _, path := range []string{"/health", "/config", "/stats", "/"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", rec.Code)
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Expected JSON response")
			}
			if strings.Contains(rec.Body.String(), "test-key") || strings.Contains(rec.Body.String(), "hidden-token") {
				t.Errorf("Secrets leaked in %s", path)
			}
		})
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	want := fmt.Sprintf(`transcribe_http_requests_total{endpoint="/health",method="GET",status_code="%d"} 1`, http.StatusOK)
	if !strings.Contains(string(body), want) {
		t.Errorf("Expected %s in metrics output", want)
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(context.Canceled); got != statusClientClosedRequest {
		t.Errorf("Expected 499 for cancellation, got %d", got)
	}
	if got := statusFor(context.DeadlineExceeded); got != http.StatusGatewayTimeout {
		t.Errorf("Expected 504 for deadline, got %d", got)
	}
	if got := statusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", got)
	}
}
