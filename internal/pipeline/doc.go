// Package pipeline runs one uploaded recording through decode, planning, per-chunk
// transcription and persistence.
//
// A run is sequential: chunks are extracted, transcribed and appended to the transcript
// store one at a time in index order, and cancellation is checked between chunks. Any
// failure aborts the run with a RunError that names the state the run was in; chunks
// persisted before the failure stay in the store.
package pipeline
