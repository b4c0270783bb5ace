// Package media wraps the external ffmpeg transcoder and reads decoded WAV metadata.
//
// Every run works inside its own Workspace, a temporary directory that is removed when
// the run ends. SweepStale removes workspaces left behind by a process that crashed.
package media
