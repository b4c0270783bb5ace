// Package metrics defines the Prometheus collectors for transcription runs, the transcoder,
// the speech-to-text client, the transcript store and the HTTP API.
package metrics
