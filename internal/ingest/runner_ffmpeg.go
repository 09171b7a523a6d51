package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/kballard/go-shellquote"
)

// DefaultArgs segments the input into H.264/AAC HLS with a rolling window,
// deleting segments that fall out of the window.
const DefaultArgs = `-nostdin -hide_banner -loglevel warning -i $INPUT -c:v libx264 -c:a aac ` +
	`-f hls -hls_time $SEGMENT_SECONDS -hls_list_size $WINDOW_SIZE -hls_flags delete_segments ` +
	`-hls_segment_filename $SEGMENT_PATTERN $PLAYLIST`

// FFmpegRunner launches ffmpeg (or a compatible binary) from an argument template.
// Supported placeholders: $INPUT, $OUTPUT_DIR, $PLAYLIST, $SEGMENT_PATTERN,
// $SEGMENT_SECONDS and $WINDOW_SIZE.
type FFmpegRunner struct {
	path            string
	args            []string
	segmentDuration time.Duration
	windowSize      int
}

func NewFFmpegRunner(path, argsTemplate string, segmentDuration time.Duration, windowSize int) (*FFmpegRunner, error) {
	if argsTemplate == "" {
		argsTemplate = DefaultArgs
	}
	args, err := shellquote.Split(argsTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid transcoder arguments: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("transcoder arguments are empty")
	}
	return &FFmpegRunner{
		path:            path,
		args:            args,
		segmentDuration: segmentDuration,
		windowSize:      windowSize,
	}, nil
}

// Args expands the template for one launch. Each placeholder is substituted
// inside a single argument, so URLs with spaces or shell characters stay intact.
func (r *FFmpegRunner) Args(spec LaunchSpec) []string {
	replacer := strings.NewReplacer(
		"$INPUT", spec.InputURL,
		"$OUTPUT_DIR", spec.OutputDir,
		"$PLAYLIST", filepath.Join(spec.OutputDir, PlaylistName),
		"$SEGMENT_PATTERN", filepath.Join(spec.OutputDir, segmentPattern),
		"$SEGMENT_SECONDS", strconv.FormatFloat(r.segmentDuration.Seconds(), 'f', -1, 64),
		"$WINDOW_SIZE", strconv.Itoa(r.windowSize),
	)

	out := make([]string, len(r.args))
	for i, a := range r.args {
		out[i] = replacer.Replace(a)
	}
	return out
}

func (r *FFmpegRunner) Start(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := removeStaleOutput(spec.OutputDir); err != nil {
		slog.Warn("Failed to clean output directory", "stream_id", spec.StreamID, "error", err)
	}

	cmd := exec.Command(r.path, r.Args(spec)...)
	cmd.Dir = spec.OutputDir
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach transcoder stderr: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start transcoder: %w", err)
	}

	slog.Info("Transcoder started",
		"stream_id", spec.StreamID,
		"pid", cmd.Process.Pid,
		"input", domain.RedactURL(spec.InputURL),
		"output_dir", spec.OutputDir,
	)

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait(spec.StreamID, stderr)
	return p, nil
}

// removeStaleOutput deletes segments and playlists left by a previous run so
// the rolling window only ever contains output of the current process.
func removeStaleOutput(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if isSegmentFile(name) || strings.HasSuffix(name, ".m3u8") || strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	err      error
	lastLine string
}

func (p *execProcess) wait(streamID string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		slog.Debug("transcoder", "stream_id", streamID, "line", line)
		p.mu.Lock()
		p.lastLine = line
		p.mu.Unlock()
	}

	err := p.cmd.Wait()

	p.mu.Lock()
	if err != nil && p.lastLine != "" {
		err = fmt.Errorf("%w: %s", err, p.lastLine)
	}
	p.err = err
	p.mu.Unlock()

	close(p.done)
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
