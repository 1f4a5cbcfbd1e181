package health

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FFmpegChecker verifies the encoder binary exports depend on.
type FFmpegChecker struct {
	binaryPath string
	timeout    time.Duration
}

// NewFFmpegChecker creates an FFmpeg health checker. An empty path falls
// back to PATH lookup.
func NewFFmpegChecker(binaryPath string) *FFmpegChecker {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &FFmpegChecker{
		binaryPath: binaryPath,
		timeout:    5 * time.Second,
	}
}

// Name returns the name of the checker.
func (f *FFmpegChecker) Name() string {
	return "ffmpeg"
}

// Check verifies the binary runs and carries the H.264 encoder used for
// MP4 output.
func (f *FFmpegChecker) Check(ctx context.Context) error {
	if _, err := exec.LookPath(f.binaryPath); err != nil {
		return fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	if err := f.checkVersion(ctx); err != nil {
		return fmt.Errorf("ffmpeg version check failed: %w", err)
	}
	if err := f.checkEncoder(ctx); err != nil {
		return fmt.Errorf("encoder availability check failed: %w", err)
	}
	return nil
}

func (f *FFmpegChecker) checkVersion(ctx context.Context) error {
	cmdCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	output, err := exec.CommandContext(cmdCtx, f.binaryPath, "-version").Output()
	if err != nil {
		return err
	}
	if !strings.Contains(string(output), "ffmpeg version") {
		return fmt.Errorf("unexpected version output")
	}
	return nil
}

func (f *FFmpegChecker) checkEncoder(ctx context.Context) error {
	cmdCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	output, err := exec.CommandContext(cmdCtx, f.binaryPath, "-encoders").Output()
	if err != nil {
		return fmt.Errorf("failed to list encoders: %w", err)
	}
	if !strings.Contains(string(output), "libx264") {
		return fmt.Errorf("libx264 encoder not available")
	}
	return nil
}
