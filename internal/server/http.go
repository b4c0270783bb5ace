package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/audio"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/config"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/media"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/metrics"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/pipeline"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/store"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/transcription"
)

const (
	serviceName    = "mp3-transcription-service"
	serviceVersion = "1.0.0"

	// DownloadFilename is the attachment name used for plain text transcripts.
	DownloadFilename = "transcription.txt"

	multipartMemory = 32 << 20

	// statusClientClosedRequest is logged when the caller went away mid-run.
	statusClientClosedRequest = 499

	// runDrainTimeout bounds how long Stop waits for cancelled runs to unwind.
	runDrainTimeout = 5 * time.Second
)

// Runner executes transcription runs.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	GetStats() pipeline.Stats
}

// ClientStatsProvider reports transcription client statistics.
type ClientStatsProvider interface {
	GetStats() transcription.ClientStats
}

// HTTPServer provides the upload API and the monitoring endpoints
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	runner      Runner
	transcripts store.Store
	client      ClientStatsProvider
	metrics     *metrics.Metrics
	validate    *validator.Validate

	// Request contexts derive from runsCtx so Stop can cancel in-flight runs.
	runsCtx    context.Context
	cancelRuns context.CancelFunc
	inflight   sync.WaitGroup

	startTime time.Time
}

// uploadForm is the validated part of a transcription request.
type uploadForm struct {
	Filename     string `validate:"required,mp3"`
	Language     string `validate:"required,language"`
	Instructions string `validate:"max=2000"`
}

// NewHTTPServer creates a new HTTP API server. client may be nil.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, runner Runner,
	transcripts store.Store, client ClientStatsProvider, m *metrics.Metrics) *HTTPServer {

	if m == nil {
		m = metrics.NewMetrics()
	}

	h := &HTTPServer{
		logger:      logger.With(slog.String("component", "http")),
		config:      appConfig,
		runner:      runner,
		transcripts: transcripts,
		client:      client,
		metrics:     m,
		validate:    newValidator(),
		startTime:   time.Now(),
	}

	h.runsCtx, h.cancelRuns = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.Server.Address, appConfig.Server.Port),
		Handler:      mux,
		BaseContext:  func(net.Listener) context.Context { return h.runsCtx },
		ReadTimeout:  appConfig.Server.GetReadTimeoutDuration(),
		WriteTimeout: appConfig.Server.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

func newValidator() *validator.Validate {
	v := validator.New()
	mustRegister(v, "language", func(fl validator.FieldLevel) bool {
		return transcription.IsSupported(fl.Field().String())
	})
	mustRegister(v, "mp3", func(fl validator.FieldLevel) bool {
		return audio.Source{Filename: fl.Field().String()}.Ext() == ".mp3"
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Transcription API
	mux.HandleFunc("/api/v1/transcriptions", h.withMetrics("/api/v1/transcriptions", h.withAuth(h.handleTranscribe)))
	mux.HandleFunc("/api/v1/transcripts", h.withMetrics("/api/v1/transcripts", h.withAuth(h.handleTranscripts)))
	mux.HandleFunc("/api/v1/transcripts/", h.withMetrics("/api/v1/transcripts/{filename}", h.withAuth(h.handleTranscriptDetail)))
	mux.HandleFunc("/api/v1/languages", h.withMetrics("/api/v1/languages", h.handleLanguages))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// withAuth requires the configured bearer token. Without a token every request passes.
func (h *HTTPServer) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	token := h.config.Server.AccessToken
	if token == "" {
		return handler
	}

	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="transcription"`)
			respondWithError(w, http.StatusUnauthorized, "invalid or missing access token")
			return
		}
		handler(w, r)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Runs still in flight when ctx expires are
// cancelled and given runDrainTimeout to release their resources.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	defer h.cancelRuns()

	err := h.server.Shutdown(ctx)
	if err == nil {
		return nil
	}

	h.logger.Warn("Shutdown deadline passed, cancelling in-flight runs", slog.String("error", err.Error()))
	h.cancelRuns()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(runDrainTimeout):
		h.logger.Error("In-flight runs did not stop in time")
	}

	if cerr := h.server.Close(); cerr != nil {
		h.logger.Debug("Failed to close connections", slog.String("error", cerr.Error()))
	}
	return err
}

// handleTranscribe implements POST /api/v1/transcriptions
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.GetMaxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d MB", h.config.Server.MaxUploadMB))
			return
		}
		respondWithError(w, http.StatusBadRequest, "expected a multipart form with an mp3 file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	form := uploadForm{
		Filename:     header.Filename,
		Language:     strings.TrimSpace(r.FormValue("language")),
		Instructions: strings.TrimSpace(r.FormValue("instructions")),
	}
	if form.Language == "" {
		form.Language = transcription.DefaultLanguage
	}
	if err := h.validate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
				"status":  "error",
				"message": "invalid transcription request",
				"errors":  formatValidationErrors(verrs),
			})
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	src, err := audio.NewSource(form.Filename, data)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.inflight.Add(1)
	defer h.inflight.Done()

	result, err := h.runner.Run(r.Context(), pipeline.Request{
		Source:       src,
		Language:     form.Language,
		Instructions: form.Instructions,
	})
	if err != nil {
		status := statusFor(err)
		if status == statusClientClosedRequest && h.runsCtx.Err() != nil {
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("Transcription request failed",
			slog.String("filename", src.Filename),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		if status == statusClientClosedRequest {
			// Nobody reads the body; the status still reaches the request metrics.
			w.WriteHeader(status)
			return
		}
		if status == http.StatusServiceUnavailable {
			respondWithError(w, status, "server is shutting down")
			return
		}
		respondWithError(w, status, err.Error())
		return
	}

	if wantsText(r) {
		respondWithText(w, result.Text)
		return
	}
	respondWithData(w, http.StatusOK, result)
}

// handleTranscripts implements GET /api/v1/transcripts
func (h *HTTPServer) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	records, err := h.transcripts.List(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]transcriptView, 0, len(records))
	for _, rec := range records {
		views = append(views, newTranscriptView(rec))
	}
	respondWithData(w, http.StatusOK, map[string]interface{}{
		"total":       len(views),
		"transcripts": views,
	})
}

// handleTranscriptDetail implements GET /api/v1/transcripts/{filename}
func (h *HTTPServer) handleTranscriptDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filename := r.URL.Path[len("/api/v1/transcripts/"):]
	if filename == "" {
		respondWithError(w, http.StatusBadRequest, "filename required")
		return
	}

	rec, err := h.transcripts.Get(r.Context(), filename)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if wantsText(r) {
		respondWithText(w, rec.Text())
		return
	}
	respondWithData(w, http.StatusOK, newTranscriptView(rec))
}

// handleLanguages implements GET /api/v1/languages
func (h *HTTPServer) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	respondWithData(w, http.StatusOK, map[string]interface{}{
		"default":   transcription.DefaultLanguage,
		"languages": transcription.Languages(),
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runStats := h.runner.GetStats()

	components := map[string]interface{}{
		"pipeline": map[string]interface{}{
			"status":      "running",
			"active_runs": len(runStats.ActiveRuns),
		},
		"store": map[string]interface{}{
			"status":  "configured",
			"backend": h.config.Store.Backend,
		},
	}
	if h.client != nil {
		clientStats := h.client.GetStats()
		components["transcription"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  clientStats.TotalRequests,
			"success_rate":    clientStats.SuccessRate,
			"active_requests": clientStats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	respondWithJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Keys and tokens are omitted
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":          h.config.Server.Port,
			"address":       h.config.Server.Address,
			"max_upload_mb": h.config.Server.MaxUploadMB,
			"auth_enabled":  h.config.Server.AccessToken != "",
			"read_timeout":  h.config.Server.ReadTimeout,
			"write_timeout": h.config.Server.WriteTimeout,
		},
		"audio": map[string]interface{}{
			"ffmpeg_path":  h.config.Audio.FFmpegPath,
			"sample_rate":  h.config.Audio.SampleRate,
			"channels":     h.config.Audio.Channels,
			"chunk_length": h.config.Audio.ChunkLength,
			"temp_dir":     h.config.Audio.TempDir,
			"stale_after":  h.config.Audio.StaleAfter,
		},
		"transcription": map[string]interface{}{
			"base_url":       h.config.Transcription.BaseURL,
			"model":          h.config.Transcription.Model,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
		},
		"store": map[string]interface{}{
			"backend":       h.config.Store.Backend,
			"path":          h.config.Store.Path,
			"postgrest_url": h.config.Store.PostgrestURL,
			"table":         h.config.Store.Table,
		},
		"staging": map[string]interface{}{
			"enabled": h.config.Staging.Enabled,
			"url":     h.config.Staging.URL,
			"bucket":  h.config.Staging.Bucket,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	respondWithJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.runner.GetStats(),
	}
	if h.client != nil {
		stats["transcription"] = h.client.GetStats()
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "MP3 Transcription Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                              "API documentation",
			"POST /api/v1/transcriptions":        "Transcribe an uploaded mp3 (multipart: file, language, instructions)",
			"GET /api/v1/transcripts":            "List stored transcripts",
			"GET /api/v1/transcripts/{filename}": "Get one transcript (?format=text to download)",
			"GET /api/v1/languages":              "Supported languages",
			"GET /health":                        "Service health check",
			"GET /config":                        "Get service configuration",
			"GET /stats":                         "Get service statistics",
			"GET /metrics":                       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	respondWithJSON(w, http.StatusOK, apiDoc)
}

// statusFor maps run failures onto HTTP statuses.
func statusFor(err error) int {
	var terr *media.TranscodeError
	var serr *transcription.ServiceError
	var sterr *store.StoreError

	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.As(err, &terr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &serr):
		return http.StatusBadGateway
	case errors.As(err, &sterr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func wantsText(r *http.Request) bool {
	return r.URL.Query().Get("format") == "text"
}

// transcriptView is the JSON shape of a stored record.
type transcriptView struct {
	Filename   string     `json:"filename"`
	RunID      string     `json:"run_id"`
	Mode       store.Mode `json:"mode"`
	Chunks     []string   `json:"chunks"`
	Transcript string     `json:"transcript"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func newTranscriptView(rec store.Record) transcriptView {
	return transcriptView{
		Filename:   rec.Filename,
		RunID:      rec.RunID,
		Mode:       rec.Mode,
		Chunks:     rec.Chunks,
		Transcript: rec.Text(),
		UpdatedAt:  rec.UpdatedAt,
	}
}

// formatValidationErrors renders validator failures as readable messages.
func formatValidationErrors(verrs validator.ValidationErrors) []string {
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
		case "mp3":
			msg = "only .mp3 uploads are supported"
		case "language":
			msg = fmt.Sprintf("unsupported language %q", fe.Value())
		case "max":
			msg = fmt.Sprintf("%s must be at most %s characters", strings.ToLower(fe.Field()), fe.Param())
		default:
			msg = fmt.Sprintf("Field '%s' failed on the '%s' tag", fe.Field(), fe.Tag())
		}
		messages = append(messages, msg)
	}
	sort.Strings(messages)
	return messages
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondWithData(w http.ResponseWriter, status int, data interface{}) {
	respondWithJSON(w, status, map[string]interface{}{
		"status": "success",
		"data":   data,
	})
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]interface{}{
		"status":  "error",
		"message": message,
	})
}

func respondWithText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", DownloadFilename))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}
