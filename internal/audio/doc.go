// Package audio holds the audio value types shared across a transcription run and
// the chunk planner that splits a decoded recording into fixed-length windows.
package audio
