package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/conticomp/xprotect-export/internal/codec"
	"github.com/conticomp/xprotect-export/internal/config"
	"github.com/conticomp/xprotect-export/internal/imageserver"
	"github.com/conticomp/xprotect-export/internal/logger"
	"github.com/conticomp/xprotect-export/internal/metrics"
	"github.com/conticomp/xprotect-export/internal/milestone"
)

// progressInterval is how many frames pass between registry progress
// writes.
const progressInterval = 50

// Exporter runs export jobs end to end: topology resolution, frame
// retrieval, encoding, and job-state bookkeeping.
type Exporter struct {
	cfg       config.ExportConfig
	imgCfg    config.ImageServerConfig
	milestone *milestone.Client
	registry  *Registry
	encoder   Encoder
	logger    logger.Logger
}

// NewExporter wires an exporter. The encoder is injected so tests can
// capture frames without running ffmpeg.
func NewExporter(
	cfg config.ExportConfig,
	imgCfg config.ImageServerConfig,
	ms *milestone.Client,
	registry *Registry,
	encoder Encoder,
	log logger.Logger,
) *Exporter {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Exporter{
		cfg:       cfg,
		imgCfg:    imgCfg,
		milestone: ms,
		registry:  registry,
		encoder:   encoder,
		logger:    log.WithField("component", "exporter"),
	}
}

// Submit validates the request, registers a queued job, and starts the
// export in the background. The returned job reflects the queued state.
func (e *Exporter) Submit(ctx context.Context, cameraID string, start, end time.Time) (*Job, error) {
	if cameraID == "" {
		return nil, fmt.Errorf("export: camera id is required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("export: end time must be after start time")
	}
	if d := end.Sub(start); d > e.cfg.MaxDuration {
		return nil, fmt.Errorf("export: time range %s exceeds the %s limit", d, e.cfg.MaxDuration)
	}

	job := &Job{
		ID:       uuid.New().String(),
		CameraID: cameraID,
		StartMs:  start.UnixMilli(),
		EndMs:    end.UnixMilli(),
		Status:   StatusQueued,
	}
	if err := e.registry.Create(ctx, job); err != nil {
		return nil, err
	}

	go e.run(context.Background(), job)
	return job, nil
}

// run drives one job to a terminal state.
func (e *Exporter) run(ctx context.Context, job *Job) {
	log := e.logger.WithFields(logger.Fields{
		"job_id":    job.ID,
		"camera_id": job.CameraID,
	})

	if err := e.registry.SetRunning(ctx, job.ID); err != nil {
		log.WithError(err).Error("Failed to mark job running")
		return
	}
	metrics.ExportStarted()
	started := time.Now()

	filename, frames, size, err := e.export(ctx, job, log)
	duration := time.Since(started)

	if err != nil {
		log.WithError(err).WithField("duration", duration).Error("Export failed")
		metrics.ExportFinished(false, duration.Seconds(), 0)
		if regErr := e.registry.SetFailed(ctx, job.ID, err.Error()); regErr != nil {
			log.WithError(regErr).Error("Failed to record job failure")
		}
		return
	}

	metrics.ExportFinished(true, duration.Seconds(), int(frames))
	log.WithFields(logger.Fields{
		"filename": filename,
		"frames":   frames,
		"bytes":    size,
		"duration": duration,
	}).Info("Export complete")
	if regErr := e.registry.SetComplete(ctx, job.ID, filename, size, frames); regErr != nil {
		log.WithError(regErr).Error("Failed to record job completion")
	}
}

// export performs the actual retrieval and encode, returning the output
// filename, frame count, and file size.
func (e *Exporter) export(ctx context.Context, job *Job, log logger.Logger) (string, int64, int64, error) {
	if !e.milestone.Authenticated() {
		if err := e.milestone.Authenticate(ctx); err != nil {
			return "", 0, 0, err
		}
	}

	host, port, err := e.milestone.ResolveImageServer(ctx, job.CameraID, e.imgCfg.Port)
	if err != nil {
		return "", 0, 0, err
	}

	// The handshake needs the SOAP session token; the OAuth bearer token
	// is not accepted on the frame retrieval port.
	token, err := e.milestone.ImageServerToken(ctx)
	if err != nil {
		return "", 0, 0, err
	}

	sess := imageserver.NewSession(imageserver.Options{
		Timeout:       e.imgCfg.ConnectTimeout,
		TranscodeJPEG: e.imgCfg.TranscodeJPEG,
		Logger:        e.logger,
	})
	defer sess.Close()

	if _, err := sess.Connect(host, port, job.CameraID, token); err != nil {
		return "", 0, 0, err
	}

	// Position the cursor; any frame attached to the seek response is
	// dropped, the pipeline re-reads from the cursor anyway.
	if _, _, err := sess.Goto(job.StartMs); err != nil {
		return "", 0, 0, err
	}

	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return "", 0, 0, fmt.Errorf("export: create output dir: %w", err)
	}
	filename := fmt.Sprintf("export_%s.mp4", time.Now().UTC().Format("20060102_150405"))
	outputPath := filepath.Join(e.cfg.Dir, filename)

	sink, err := e.encoder.Start(ctx, outputPath)
	if err != nil {
		return "", 0, 0, err
	}

	frames, encodeErr := e.pump(ctx, sess, job, sink, log)

	if err := sink.Close(); err != nil && encodeErr == nil {
		encodeErr = err
	}
	if encodeErr != nil {
		_ = os.Remove(outputPath)
		return "", 0, 0, encodeErr
	}

	if frames == 0 {
		_ = os.Remove(outputPath)
		return "", 0, 0, fmt.Errorf("export: no frames found in the requested range")
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return "", 0, 0, fmt.Errorf("export: output file missing after encode: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(outputPath)
		return "", 0, 0, fmt.Errorf("export: encoder produced no video data")
	}

	return filename, frames, info.Size(), nil
}

// pump moves frames from the session to the encoder until the range is
// exhausted or the context is cancelled.
func (e *Exporter) pump(ctx context.Context, sess *imageserver.Session, job *Job, sink EncodeSink, log logger.Logger) (int64, error) {
	pipeline := imageserver.NewPipeline(sess, e.imgCfg.PipelineDepth, job.EndMs)

	var frames, skipped int64
	var lastTimestamp int64

	for pipeline.Scan() {
		if err := ctx.Err(); err != nil {
			// Cooperative cancel: stop scanning and let the deferred
			// session close abandon the in-flight responses.
			return frames, err
		}

		frame := pipeline.Frame()
		typ, payload := codec.Classify(frame.Payload)
		metrics.ObserveFrame(job.CameraID, typ.String(), len(payload))

		// ffmpeg reads an image sequence; anything that is not a still
		// image would corrupt the pipe.
		if typ != codec.TypeJPEG {
			skipped++
			continue
		}

		if err := sink.WriteFrame(payload); err != nil {
			return frames, err
		}
		frames++
		if frame.HasTimestamp {
			lastTimestamp = frame.Timestamp
		}

		if frames%progressInterval == 0 {
			if err := e.registry.UpdateProgress(ctx, job.ID, frames, lastTimestamp); err != nil {
				log.WithError(err).Warn("Failed to update job progress")
			}
		}
	}
	if err := pipeline.Err(); err != nil {
		return frames, err
	}

	if skipped > 0 {
		log.WithFields(logger.Fields{
			"skipped": skipped,
			"written": frames,
		}).Warn("Skipped non-JPEG frames during export")
	}
	return frames, nil
}

// Job returns the registry record for a job id.
func (e *Exporter) Job(ctx context.Context, jobID string) (*Job, error) {
	return e.registry.Get(ctx, jobID)
}

// Jobs lists all registry records.
func (e *Exporter) Jobs(ctx context.Context) ([]*Job, error) {
	return e.registry.List(ctx)
}

// FilePath resolves a completed job's output inside the export directory.
// The filename is flattened to its base to block path traversal.
func (e *Exporter) FilePath(filename string) string {
	return filepath.Join(e.cfg.Dir, filepath.Base(filename))
}
