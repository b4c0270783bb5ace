// Package server implements the HTTP API: the mp3 upload endpoint that drives a
// transcription run, transcript retrieval and download, and the health, config,
// stats and metrics endpoints used for monitoring.
package server
