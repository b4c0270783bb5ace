package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/audio"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/media"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/metrics"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/staging"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/store"
	"github.com/justinwkUKM/whisper-transcription-streamlit/internal/transcription"
)

// Transcoder decodes uploads and cuts segments out of the decoded audio.
type Transcoder interface {
	Decode(ctx context.Context, ws *media.Workspace, src audio.Source) (string, error)
	Extract(ctx context.Context, ws *media.Workspace, wavPath string, w audio.Window) (string, error)
}

// Analyzer reads the metadata of a decoded WAV file.
type Analyzer interface {
	Analyze(path string) (audio.DecodedAudio, error)
}

// Config contains run parameters
type Config struct {
	ChunkLength float64 // seconds
	TempDir     string
	StaleAfter  time.Duration
}

// Deps are the collaborators of a Pipeline. Stager is optional.
type Deps struct {
	Transcoder  Transcoder
	Analyzer    Analyzer
	Transcriber transcription.Transcriber
	Store       store.Store
	Stager      staging.Stager
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Request asks for one upload to be transcribed.
type Request struct {
	Source       audio.Source
	Language     string
	Instructions string
}

// Result is a completed transcription.
type Result struct {
	RunID    string         `json:"run_id"`
	Filename string         `json:"filename"`
	Mode     store.Mode     `json:"mode"`
	Text     string         `json:"transcript"`
	Chunks   []string       `json:"chunks"`
	Windows  []audio.Window `json:"windows,omitempty"`
	Duration float64        `json:"duration_seconds"`
	Elapsed  time.Duration  `json:"elapsed"`
}

// RunInfo describes an active run.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Filename  string    `json:"filename"`
	State     State     `json:"state"`
	Chunk     int       `json:"chunk"`
	Chunks    int       `json:"chunks"`
	StartTime time.Time `json:"start_time"`
}

// Stats represents pipeline statistics
type Stats struct {
	RunsStarted     uint64    `json:"runs_started"`
	RunsCompleted   uint64    `json:"runs_completed"`
	RunsFailed      uint64    `json:"runs_failed"`
	ChunksProcessed uint64    `json:"chunks_processed"`
	ActiveRuns      []RunInfo `json:"active_runs"`
}

// Pipeline executes transcription runs. Runs for different files may proceed concurrently;
// a second run for a file that is already being transcribed is rejected.
type Pipeline struct {
	config      Config
	transcoder  Transcoder
	analyzer    Analyzer
	transcriber transcription.Transcriber
	store       store.Store
	stager      staging.Stager
	metrics     *metrics.Metrics
	logger      *slog.Logger

	active map[string]*RunInfo // by filename

	runsStarted     uint64
	runsCompleted   uint64
	runsFailed      uint64
	chunksProcessed uint64

	mu sync.RWMutex
}

// New creates a pipeline. The transcoder, transcriber and store are required.
func New(config Config, deps Deps) (*Pipeline, error) {
	if deps.Transcoder == nil {
		return nil, fmt.Errorf("transcoder is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("transcript store is required")
	}
	if deps.Analyzer == nil {
		deps.Analyzer = media.WAVAnalyzer{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.ChunkLength <= 0 {
		config.ChunkLength = audio.DefaultChunkLength
	}

	return &Pipeline{
		config:      config,
		transcoder:  deps.Transcoder,
		analyzer:    deps.Analyzer,
		transcriber: deps.Transcriber,
		store:       deps.Store,
		stager:      deps.Stager,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With(slog.String("component", "pipeline")),
		active:      make(map[string]*RunInfo),
	}, nil
}

// run carries the mutable state of one execution.
type run struct {
	info    *RunInfo
	req     Request
	logger  *slog.Logger
	staged  []string
	started time.Time
}

// Run transcribes one upload. On failure the returned error is a *RunError.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	filename := req.Source.Filename
	if req.Language == "" {
		req.Language = transcription.DefaultLanguage
	}

	r := &run{
		info: &RunInfo{
			RunID:     uuid.NewString(),
			Filename:  filename,
			State:     StateReceived,
			Chunk:     -1,
			StartTime: time.Now(),
		},
		req:     req,
		started: time.Now(),
	}
	r.logger = p.logger.With(
		slog.String("run_id", r.info.RunID),
		slog.String("filename", filename),
	)

	if filename == "" || len(req.Source.Data) == 0 {
		return nil, &RunError{RunID: r.info.RunID, Filename: filename, State: StateReceived, Chunk: -1,
			Err: errors.New("upload is empty")}
	}

	alone, err := p.acquire(r.info)
	if err != nil {
		r.logger.Warn("Rejected concurrent run for file")
		return nil, &RunError{RunID: r.info.RunID, Filename: filename, State: StateReceived, Chunk: -1, Err: err}
	}
	defer p.release(filename)

	p.metrics.RecordRunStarted()
	r.logger.Info("Transcription run started",
		slog.String("language", req.Language),
		slog.Int("upload_bytes", len(req.Source.Data)),
		slog.Bool("instructions", req.Instructions != ""),
	)

	if alone {
		p.sweepStale()
	}

	result, err := p.execute(ctx, r)
	p.cleanupStaged(ctx, r)

	if err != nil {
		var rerr *RunError
		if !errors.As(err, &rerr) {
			rerr = &RunError{RunID: r.info.RunID, Filename: filename, State: r.info.State, Chunk: -1, Err: err}
		}
		p.recordFailure(r, rerr)
		return nil, rerr
	}

	p.recordSuccess(r, result)
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*Result, error) {
	ws, err := media.NewWorkspace(p.config.TempDir)
	if err != nil {
		return nil, p.fail(r, -1, 0, err)
	}
	defer func() {
		if err := ws.Close(); err != nil {
			r.logger.Warn("Failed to remove workspace", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	wavPath, err := p.transcoder.Decode(ctx, ws, r.req.Source)
	p.metrics.RecordTranscode("decode", time.Since(start).Seconds(), err != nil)
	if err != nil {
		return nil, p.fail(r, -1, 0, err)
	}

	decoded, err := p.analyzer.Analyze(wavPath)
	if err != nil {
		p.metrics.RecordTranscode("analyze", 0, true)
		return nil, p.fail(r, -1, 0, err)
	}
	decoded.Path = wavPath
	p.setState(r, StateDecoded, -1)

	r.logger.Info("Audio decoded",
		slog.Float64("duration", decoded.Duration),
		slog.Int("sample_rate", decoded.SampleRate),
		slog.Int64("frames", decoded.Frames),
	)

	windows := audio.Plan(decoded.Duration, p.config.ChunkLength)
	p.setState(r, StatePlanned, -1)
	p.metrics.RecordChunksPlanned(len(windows))

	var result *Result
	if len(windows) == 0 {
		result, err = p.runSingle(ctx, r, decoded)
	} else {
		result, err = p.runChunked(ctx, r, ws, decoded, windows)
	}
	if err != nil {
		return nil, err
	}

	p.setState(r, StateDone, -1)
	result.Duration = decoded.Duration
	result.Elapsed = time.Since(r.started)
	return result, nil
}

// runSingle transcribes the whole recording in one request and overwrites the record.
func (p *Pipeline) runSingle(ctx context.Context, r *run, decoded audio.DecodedAudio) (*Result, error) {
	r.logger.Info("Transcribing in a single request", slog.Float64("duration", decoded.Duration))

	data, err := os.ReadFile(decoded.Path)
	if err != nil {
		return nil, p.fail(r, -1, 0, &media.TranscodeError{Op: "read", Path: decoded.Path, Err: err})
	}

	text, err := p.transcribe(ctx, r, "audio.wav", data)
	if err != nil {
		return nil, p.fail(r, -1, 0, err)
	}
	p.setState(r, StateAssembled, -1)

	if _, err := p.store.Put(ctx, r.info.Filename, r.info.RunID, store.ModeSingle, []string{text}); err != nil {
		p.metrics.RecordStoreWrite("put", true)
		return nil, p.fail(r, -1, 0, err)
	}
	p.metrics.RecordStoreWrite("put", false)
	p.setState(r, StatePersisted, -1)

	return &Result{
		RunID:    r.info.RunID,
		Filename: r.info.Filename,
		Mode:     store.ModeSingle,
		Text:     text,
		Chunks:   []string{text},
	}, nil
}

// runChunked walks the windows in order, persisting each chunk as soon as it is transcribed.
func (p *Pipeline) runChunked(ctx context.Context, r *run, ws *media.Workspace, decoded audio.DecodedAudio, windows []audio.Window) (*Result, error) {
	p.mu.Lock()
	r.info.Chunks = len(windows)
	p.mu.Unlock()

	r.logger.Info("Transcribing in chunks",
		slog.Int("chunks", len(windows)),
		slog.Float64("chunk_length", p.config.ChunkLength),
		slog.Float64("duration", decoded.Duration),
	)

	results := make([]ChunkResult, 0, len(windows))

	for _, w := range windows {
		persisted := len(results)
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Run cancelled between chunks", slog.Int("chunk", w.Index))
			return nil, p.fail(r, w.Index, persisted, err)
		}
		p.setState(r, StateChunking, w.Index)

		// A tail of a few frames is stored as an empty chunk; the service rejects it.
		if w.Negligible() {
			if _, err := p.store.AppendChunk(ctx, r.info.Filename, r.info.RunID, w.Index, ""); err != nil {
				p.metrics.RecordStoreWrite("append", true)
				return nil, p.fail(r, w.Index, persisted, err)
			}
			p.metrics.RecordStoreWrite("append", false)
			results = append(results, ChunkResult{Index: w.Index})
			r.logger.Debug("Skipped negligible tail", slog.Int("chunk", w.Index), slog.Float64("length", w.Length()))
			continue
		}

		start := time.Now()
		segPath, err := p.transcoder.Extract(ctx, ws, decoded.Path, w)
		p.metrics.RecordTranscode("extract", time.Since(start).Seconds(), err != nil)
		if err != nil {
			return nil, p.fail(r, w.Index, persisted, err)
		}

		data, err := os.ReadFile(segPath)
		if err != nil {
			return nil, p.fail(r, w.Index, persisted, &media.TranscodeError{Op: "read", Path: segPath, Err: err})
		}

		if p.stager != nil {
			data, err = p.stage(ctx, r, w.Index, data)
			if err != nil {
				return nil, p.fail(r, w.Index, persisted, err)
			}
		}

		text, err := p.transcribe(ctx, r, fmt.Sprintf("chunk_%03d.wav", w.Index), data)
		if err != nil {
			return nil, p.fail(r, w.Index, persisted, err)
		}

		if _, err := p.store.AppendChunk(ctx, r.info.Filename, r.info.RunID, w.Index, text); err != nil {
			p.metrics.RecordStoreWrite("append", true)
			return nil, p.fail(r, w.Index, persisted, err)
		}
		p.metrics.RecordStoreWrite("append", false)

		results = append(results, ChunkResult{Index: w.Index, Text: text})
		p.metrics.RecordChunkProcessed(w.Length(), len(data))
		p.incrementChunksProcessed()

		if err := os.Remove(segPath); err != nil {
			r.logger.Debug("Failed to remove segment", slog.String("path", segPath), slog.String("error", err.Error()))
		}

		r.logger.Info("Chunk transcribed",
			slog.Int("chunk", w.Index),
			slog.Int("chunks", len(windows)),
			slog.Float64("start", w.Start),
			slog.Float64("end", w.End),
			slog.Int("text_length", len(text)),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	texts, transcript := Assemble(results)
	p.setState(r, StateAssembled, -1)
	// Every chunk was persisted inside the loop.
	p.setState(r, StatePersisted, -1)

	return &Result{
		RunID:    r.info.RunID,
		Filename: r.info.Filename,
		Mode:     store.ModeChunked,
		Text:     transcript,
		Chunks:   texts,
		Windows:  windows,
	}, nil
}

func (p *Pipeline) transcribe(ctx context.Context, r *run, name string, data []byte) (string, error) {
	p.metrics.RecordTranscriptionRequest()
	start := time.Now()

	text, err := p.transcriber.Transcribe(ctx, transcription.Request{
		Filename:     name,
		Audio:        data,
		Language:     r.req.Language,
		Instructions: r.req.Instructions,
	})
	elapsed := time.Since(start)

	if err != nil {
		p.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		r.logger.Error("Transcription request failed",
			slog.String("segment", name),
			slog.Int("audio_bytes", len(data)),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	p.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	return text, nil
}

func (p *Pipeline) stage(ctx context.Context, r *run, index int, data []byte) ([]byte, error) {
	key := staging.ChunkKey(r.info.RunID, index)
	r.staged = append(r.staged, key)

	staged, err := p.stager.Stage(ctx, key, data)
	p.metrics.RecordStaging(err != nil)
	if err != nil {
		return nil, fmt.Errorf("staging chunk %d: %w", index, err)
	}
	return staged, nil
}

// cleanupStaged removes this run's staged objects even when the run was cancelled.
func (p *Pipeline) cleanupStaged(ctx context.Context, r *run) {
	if p.stager == nil || len(r.staged) == 0 {
		return
	}
	if err := p.stager.Remove(context.WithoutCancel(ctx), r.staged); err != nil {
		r.logger.Warn("Failed to remove staged chunks",
			slog.Int("objects", len(r.staged)),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) fail(r *run, chunk, persisted int, err error) error {
	p.mu.RLock()
	state := r.info.State
	p.mu.RUnlock()

	return &RunError{
		RunID:     r.info.RunID,
		Filename:  r.info.Filename,
		State:     state,
		Chunk:     chunk,
		Persisted: persisted,
		Err:       err,
	}
}

func (p *Pipeline) setState(r *run, state State, chunk int) {
	p.mu.Lock()
	r.info.State = state
	r.info.Chunk = chunk
	p.mu.Unlock()

	r.logger.Debug("Run state changed", slog.String("state", state.String()), slog.Int("chunk", chunk))
}

func (p *Pipeline) recordSuccess(r *run, result *Result) {
	p.mu.Lock()
	p.runsCompleted++
	p.mu.Unlock()

	p.metrics.RecordRunCompleted(string(result.Mode), result.Elapsed.Seconds(), result.Duration)
	r.logger.Info("Transcription run completed",
		slog.String("mode", string(result.Mode)),
		slog.Int("chunks", len(result.Chunks)),
		slog.Float64("duration", result.Duration),
		slog.Duration("elapsed", result.Elapsed),
		slog.Int("transcript_length", len(result.Text)),
	)
}

func (p *Pipeline) recordFailure(r *run, rerr *RunError) {
	p.mu.Lock()
	p.runsFailed++
	r.info.State = StateFailed
	p.mu.Unlock()

	p.metrics.RecordRunFailed(rerr.State.String(), time.Since(r.started).Seconds())
	r.logger.Error("Transcription run failed",
		slog.String("state", rerr.State.String()),
		slog.Int("chunk", rerr.Chunk),
		slog.Int("persisted_chunks", rerr.Persisted),
		slog.String("error", rerr.Err.Error()),
	)
}

// acquire registers a run for its filename. It reports whether no other run is active.
func (p *Pipeline) acquire(info *RunInfo) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.active[info.Filename]; busy {
		return false, ErrRunInProgress
	}
	p.active[info.Filename] = info
	p.runsStarted++
	return len(p.active) == 1, nil
}

func (p *Pipeline) release(filename string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, filename)
}

func (p *Pipeline) incrementChunksProcessed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunksProcessed++
}

// sweepStale removes workspaces left by earlier processes. Only called when no other run is active.
func (p *Pipeline) sweepStale() {
	if p.config.StaleAfter <= 0 {
		return
	}
	removed, err := media.SweepStale(p.config.TempDir, p.config.StaleAfter)
	if err != nil {
		p.logger.Warn("Stale workspace sweep incomplete", slog.String("error", err.Error()))
	}
	if len(removed) > 0 {
		p.logger.Info("Removed stale workspaces", slog.Int("count", len(removed)))
	}
}

// GetStats returns current pipeline statistics
func (p *Pipeline) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	active := make([]RunInfo, 0, len(p.active))
	for _, info := range p.active {
		active = append(active, *info)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartTime.Before(active[j].StartTime) })

	return Stats{
		RunsStarted:     p.runsStarted,
		RunsCompleted:   p.runsCompleted,
		RunsFailed:      p.runsFailed,
		ChunksProcessed: p.chunksProcessed,
		ActiveRuns:      active,
	}
}
