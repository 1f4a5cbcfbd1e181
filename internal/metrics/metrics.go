package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImageServer session metrics
	sessionConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageserver_session_connects_total",
		Help: "Total ImageServer session connect attempts",
	}, []string{"result"})

	framesRetrievedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageserver_frames_retrieved_total",
		Help: "Total frames retrieved per camera",
	}, []string{"camera_id", "codec"})

	frameBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageserver_frame_bytes_total",
		Help: "Total frame payload bytes retrieved per camera",
	}, []string{"camera_id"})

	sessionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imageserver_session_errors_total",
		Help: "Total ImageServer protocol errors",
	}, []string{"camera_id", "error_type"})

	pipelineInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "imageserver_pipeline_in_flight",
		Help: "Outstanding pipelined frame requests per camera",
	}, []string{"camera_id"})

	// Export job metrics
	exportsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "export_jobs_active",
		Help: "Number of export jobs currently running",
	})

	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_jobs_total",
		Help: "Total export jobs by result",
	}, []string{"result"})

	exportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "export_duration_seconds",
		Help:    "Wall-clock duration of export jobs in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
	})

	exportFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "export_frames_encoded_total",
		Help: "Total frames handed to the encoder across all exports",
	})
)

// IncSessionConnect records a session connect attempt.
func IncSessionConnect(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	sessionConnectsTotal.WithLabelValues(result).Inc()
}

// ObserveFrame records a retrieved frame and its size.
func ObserveFrame(cameraID, codec string, bytes int) {
	framesRetrievedTotal.WithLabelValues(cameraID, codec).Inc()
	frameBytesTotal.WithLabelValues(cameraID).Add(float64(bytes))
}

// IncSessionError increments the protocol error counter.
func IncSessionError(cameraID, errorType string) {
	sessionErrorsTotal.WithLabelValues(cameraID, errorType).Inc()
}

// SetPipelineInFlight sets the outstanding request gauge for a camera.
func SetPipelineInFlight(cameraID string, n int) {
	pipelineInFlight.WithLabelValues(cameraID).Set(float64(n))
}

// ExportStarted marks an export job as running.
func ExportStarted() {
	exportsActive.Inc()
}

// ExportFinished records the outcome and duration of an export job.
func ExportFinished(success bool, seconds float64, frames int) {
	exportsActive.Dec()
	result := "success"
	if !success {
		result = "failure"
	}
	exportsTotal.WithLabelValues(result).Inc()
	exportDuration.Observe(seconds)
	exportFramesTotal.Add(float64(frames))
}
