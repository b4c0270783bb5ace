// Package staging moves chunk audio through a remote object store before transcription.
package staging
