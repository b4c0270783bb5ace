// Package transcription sends audio segments to an OpenAI-compatible speech-to-text API.
// It builds the recognition prompt from a language hint and optional instructions,
// retries transient failures with exponential backoff, and limits concurrent requests.
package transcription
