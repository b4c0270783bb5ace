// Package store persists transcripts keyed by source filename.
//
// A record holds the ordered chunk texts of the most recent run for a file. Chunked runs
// append one chunk at a time so an interrupted run leaves a readable partial record; the
// first write of a new run replaces whatever an earlier run left behind.
package store
