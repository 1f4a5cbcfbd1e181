// Package export turns a camera and time range into an MP4 file: it drives
// an ImageServer session, feeds the retrieved frames to FFmpeg, and tracks
// job state in a Redis-backed registry.
package export

import "time"

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusRunning  JobStatus = "running"
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
)

// Job is one export request and its progress. Persisted as JSON in the
// registry; a single worker goroutine owns all writes for a given job.
type Job struct {
	ID       string `json:"id"`
	CameraID string `json:"camera_id"`

	// Requested range in millisecond epoch time.
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`

	Status JobStatus `json:"status"`
	Error  string    `json:"error,omitempty"`

	// Set once the encoder produces output.
	Filename   string `json:"filename,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	FrameCount int64  `json:"frame_count"`

	// LastTimestamp is the most recent frame position written, for
	// progress reporting against the requested range.
	LastTimestamp int64 `json:"last_timestamp,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}
