package ingest

import (
	"context"
)

const (
	PlaylistName   = "playlist.m3u8"
	segmentPattern = "segment_%03d.ts"
)

// LaunchSpec describes one transcoder run.
type LaunchSpec struct {
	StreamID  string
	InputURL  string
	OutputDir string
}

// Runner starts transcoder processes.
type Runner interface {
	Start(ctx context.Context, spec LaunchSpec) (Process, error)
}

// Process is a running transcoder.
type Process interface {
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Err is the exit error after Done is closed; nil means status 0.
	Err() error
	// Interrupt asks the process to finish gracefully.
	Interrupt() error
	Kill() error
}
