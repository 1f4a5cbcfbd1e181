package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/conticomp/xprotect-export/internal/config"
	"github.com/conticomp/xprotect-export/internal/logger"
)

// Encoder turns a sequence of still frames into a video file. Implemented
// by FFmpegEncoder; tests substitute an in-memory sink.
type Encoder interface {
	// Start begins an encode writing to outputPath. Frames are then pushed
	// through the returned sink.
	Start(ctx context.Context, outputPath string) (EncodeSink, error)
}

// EncodeSink accepts complete frames one at a time. Close finalizes the
// output and reports any encode failure.
type EncodeSink interface {
	WriteFrame(frame []byte) error
	Close() error
}

// FFmpegEncoder runs ffmpeg with JPEG frames piped to stdin, the same
// arrangement as piping image2pipe input from a capture process.
type FFmpegEncoder struct {
	path      string
	framerate int
	preset    string
	logger    logger.Logger
}

// NewFFmpegEncoder builds an encoder from export configuration. An empty
// ffmpeg path falls back to PATH lookup.
func NewFFmpegEncoder(cfg config.ExportConfig, log logger.Logger) *FFmpegEncoder {
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	framerate := cfg.Framerate
	if framerate <= 0 {
		framerate = 15
	}
	preset := cfg.Preset
	if preset == "" {
		preset = "fast"
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &FFmpegEncoder{
		path:      path,
		framerate: framerate,
		preset:    preset,
		logger:    log.WithField("component", "ffmpeg"),
	}
}

// Available reports whether the ffmpeg binary can be resolved.
func (e *FFmpegEncoder) Available() bool {
	_, err := exec.LookPath(e.path)
	return err == nil
}

func (e *FFmpegEncoder) args(outputPath string) []string {
	return []string{
		"-y",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(e.framerate),
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", e.preset,
		outputPath,
	}
}

// Start launches the ffmpeg process. The context bounds the whole encode;
// cancellation kills the process.
func (e *FFmpegEncoder) Start(ctx context.Context, outputPath string) (EncodeSink, error) {
	cmd := exec.CommandContext(ctx, e.path, e.args(outputPath)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("export: ffmpeg stdin pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("export: start ffmpeg: %w", err)
	}

	e.logger.WithFields(logger.Fields{
		"output":    outputPath,
		"framerate": e.framerate,
		"preset":    e.preset,
	}).Debug("FFmpeg encode started")

	return &ffmpegSink{cmd: cmd, stdin: stdin, stderr: &stderr}, nil
}

type ffmpegSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

func (s *ffmpegSink) WriteFrame(frame []byte) error {
	if _, err := s.stdin.Write(frame); err != nil {
		return fmt.Errorf("export: write frame to ffmpeg: %w", err)
	}
	return nil
}

// Close signals end of input and waits for ffmpeg to finalize the file.
func (s *ffmpegSink) Close() error {
	_ = s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("export: ffmpeg failed: %w: %s", err, stderrTail(s.stderr.String()))
	}
	return nil
}

// stderrTail keeps the end of ffmpeg's stderr, where the actual error is.
func stderrTail(s string) string {
	const limit = 500
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
