// Command mockwhisper serves an OpenAI-compatible /v1/audio/transcriptions endpoint
// for local runs without an API key. Point OPENAI_BASE_URL at http://localhost:9000/v1.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

type transcriptionResponse struct {
	Text string `json:"text"`
}

type mockServer struct {
	logger    *slog.Logger
	delay     time.Duration
	failEvery int // every n-th request answers 503; 0 disables
	requests  atomic.Int64
}

func (m *mockServer) handleTranscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := m.requests.Add(1)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audio file")
		return
	}

	language := r.FormValue("language")
	m.logger.Info("Transcription request received",
		slog.Int64("request", n),
		slog.String("model", r.FormValue("model")),
		slog.String("filename", header.Filename),
		slog.Int("audio_bytes", len(audioData)),
		slog.String("language", language),
		slog.String("prompt", r.FormValue("prompt")),
	)

	if m.failEvery > 0 && n%int64(m.failEvery) == 0 {
		m.logger.Warn("Simulating upstream overload", slog.Int64("request", n))
		writeError(w, http.StatusServiceUnavailable, "simulated overload")
		return
	}

	// Simulate processing time
	time.Sleep(m.delay)

	response := transcriptionResponse{
		Text: fmt.Sprintf("Mock transcript of %s (%s, %d bytes).", header.Filename, language, len(audioData)),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "mock_error",
		},
	})
}

func main() {
	port := flag.Int("port", 9000, "Port to listen on")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time per request")
	failEvery := flag.Int("fail-every", 0, "Answer every n-th request with 503 (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := &mockServer{logger: logger, delay: *delay, failEvery: *failEvery}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", m.handleTranscription)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock transcription server starting",
		slog.String("endpoint", fmt.Sprintf("http://localhost%s/v1/audio/transcriptions", addr)),
		slog.String("base_url", fmt.Sprintf("http://localhost%s/v1", addr)),
	)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
