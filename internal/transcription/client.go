package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber turns one audio segment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Request is a single stateless transcription call.
type Request struct {
	Filename     string // name sent with the multipart upload, e.g. chunk_001.wav
	Audio        []byte
	Language     string // ISO 639-1 code
	Instructions string
}

// Config contains transcription client configuration
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	BackoffBase   time.Duration
	BackoffMax    time.Duration

	// OnRetry, when set, is called before each retry attempt.
	OnRetry func(attempt int, err error)
}

// Client calls the OpenAI audio transcription endpoint
type Client struct {
	config    Config
	api       *openai.Client
	semaphore chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription client
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = openai.Whisper1
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative, got %d", config.MaxRetries)
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}

	if config.BackoffMax <= 0 {
		config.BackoffMax = 30 * time.Second
	}

	apiConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		apiConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	apiConfig.HTTPClient = &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:    config,
		api:       openai.NewClientWithConfig(apiConfig),
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe sends one audio segment and returns the recognized text.
// Transient failures are retried with exponential backoff; anything else fails immediately.
func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", &ServiceError{Message: "audio payload is empty", Err: errors.New("empty audio")}
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	language := req.Language
	if language == "" {
		language = DefaultLanguage
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr *ServiceError
	attempts := 0

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.config.OnRetry != nil {
				c.config.OnRetry(attempt, lastErr)
			}

			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return "", ctx.Err()
			}
		}

		attempts++
		resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
			Model:    c.config.Model,
			FilePath: filename,
			Reader:   bytes.NewReader(req.Audio),
			Prompt:   BuildPrompt(language, req.Instructions),
			Language: language,
			Format:   openai.AudioResponseFormatJSON,
		})
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return strings.TrimSpace(resp.Text), nil
		}

		// Caller cancellation is not a service failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.incrementFailedRequests()
			return "", ctxErr
		}

		lastErr = classify(err)
		if !lastErr.Transient {
			break
		}
	}

	c.incrementFailedRequests()
	lastErr.Attempts = attempts
	return "", lastErr
}

// backoff returns the wait before retry attempt n (n >= 1): base, 2*base, 4*base, ... capped.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.BackoffBase
	if d > c.config.BackoffMax || d <= 0 {
		d = c.config.BackoffMax
	}
	return d
}

// classify converts an API client error into a ServiceError and decides whether it is transient.
func classify(err error) *ServiceError {
	serr := &ServiceError{Err: err, Message: err.Error()}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError

	switch {
	case errors.As(err, &apiErr):
		serr.StatusCode = apiErr.HTTPStatusCode
		serr.Message = apiErr.Message
		serr.Transient = isRetryableStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		serr.StatusCode = reqErr.HTTPStatusCode
		serr.Transient = isRetryableStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		serr.Transient = true
	case errors.As(err, &netErr) && netErr.Timeout():
		serr.Transient = true
	case errors.As(err, &dnsErr):
		serr.Transient = dnsErr.IsTimeout || dnsErr.IsTemporary
	case errors.As(err, &opErr):
		// TLS alerts also arrive as OpErrors, with Op "remote error".
		serr.Transient = opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write"
	default:
		// Connection resets surface as plain errors from the transport.
		msg := strings.ToLower(err.Error())
		serr.Transient = strings.Contains(msg, "connection reset") ||
			strings.Contains(msg, "connection refused") ||
			strings.Contains(msg, "eof")
	}

	return serr
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}
