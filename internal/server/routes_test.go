package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conticomp/xprotect-export/internal/export"
)

func managementStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/API/IDP/connect/token":
			_, _ = w.Write([]byte(`{"access_token":"tok"}`))
		case "/api/rest/v1/cameras":
			_, _ = w.Write([]byte(`{"array":[{"id":"cam-1","name":"Lobby","enabled":true}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestListCameras(t *testing.T) {
	ms := managementStub(t)
	defer ms.Close()
	ts := newTestServer(t, ms.URL)

	rec := ts.do(t, http.MethodGet, "/api/v1/cameras", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cam-1"`)
	assert.Contains(t, rec.Body.String(), `"Lobby"`)
}

func TestListCamerasUpstreamFailure(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1")

	rec := ts.do(t, http.MethodGet, "/api/v1/cameras", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "UPSTREAM_ERROR")
}

func TestCreateExportValidation(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed body", `{not json`, "Invalid request body"},
		{"bad start time", `{"camera_id":"cam-1","start_time":"yesterday","end_time":"2026-08-26T10:00:00Z"}`, "start_time"},
		{"bad end time", `{"camera_id":"cam-1","start_time":"2026-08-26T10:00:00Z","end_time":"later"}`, "end_time"},
		{"missing camera", `{"camera_id":"","start_time":"2026-08-26T10:00:00Z","end_time":"2026-08-26T10:01:00Z"}`, "camera id"},
		{"inverted range", `{"camera_id":"cam-1","start_time":"2026-08-26T10:01:00Z","end_time":"2026-08-26T10:00:00Z"}`, "end time must be after"},
		{"range too long", `{"camera_id":"cam-1","start_time":"2026-08-26T10:00:00Z","end_time":"2026-08-26T10:11:00Z"}`, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/exports", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestCreateExportAccepted(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1")

	body := `{"camera_id":"cam-1","start_time":"2026-08-26T10:00:00Z","end_time":"2026-08-26T10:01:00Z"}`
	rec := ts.do(t, http.MethodPost, "/api/v1/exports", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job export.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, export.StatusQueued, job.Status)

	// The job is immediately visible for polling.
	rec = ts.do(t, http.MethodGet, "/api/v1/exports/"+job.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetExportNotFound(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1")

	rec := ts.do(t, http.MethodGet, "/api/v1/exports/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestListExports(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1")
	ctx := context.Background()

	require.NoError(t, ts.registry.Create(ctx, &export.Job{
		ID: "job-1", CameraID: "cam-1", StartMs: 0, EndMs: 1000, Status: export.StatusQueued,
	}))

	rec := ts.do(t, http.MethodGet, "/api/v1/exports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job-1"`)
}

func TestDownloadExport(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1")
	ctx := context.Background()

	require.NoError(t, ts.registry.Create(ctx, &export.Job{
		ID: "job-dl", CameraID: "cam-1", StartMs: 0, EndMs: 1000, Status: export.StatusQueued,
	}))

	// Not complete yet.
	rec := ts.do(t, http.MethodGet, "/api/v1/exports/job-dl/download", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Complete but the file vanished.
	require.NoError(t, ts.registry.SetComplete(ctx, "job-dl", "export_gone.mp4", 3, 1))
	rec = ts.do(t, http.MethodGet, "/api/v1/exports/job-dl/download", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Complete with the file on disk.
	require.NoError(t, os.WriteFile(ts.srv.exporter.FilePath("export_gone.mp4"), []byte("mp4data"), 0o644))
	rec = ts.do(t, http.MethodGet, "/api/v1/exports/job-dl/download", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "export_gone.mp4")
	assert.Equal(t, "mp4data", rec.Body.String())
}

func TestDownloadExportPathTraversal(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1")
	ctx := context.Background()

	require.NoError(t, ts.registry.Create(ctx, &export.Job{
		ID: "job-evil", CameraID: "cam-1", StartMs: 0, EndMs: 1000, Status: export.StatusQueued,
	}))
	require.NoError(t, ts.registry.SetComplete(ctx, "job-evil", "../../etc/passwd", 1, 1))

	rec := ts.do(t, http.MethodGet, "/api/v1/exports/job-evil/download", "")
	// The filename is flattened to its base inside the export dir, which
	// does not exist there.
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportRateLimit(t *testing.T) {
	ms := managementStub(t)
	defer ms.Close()
	ts := newTestServer(t, ms.URL)
	ts.srv.exportLimiter.SetLimit(1)
	ts.srv.exportLimiter.SetBurst(1)

	body := `{"camera_id":"","start_time":"x","end_time":"y"}`

	rec := ts.do(t, http.MethodPost, "/api/v1/exports", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "first request passes the limiter")

	rec = ts.do(t, http.MethodPost, "/api/v1/exports", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT")
}

func TestRateLimitDoesNotAffectReads(t *testing.T) {
	ts := newTestServer(t, "http://127.0.0.1:1")
	ts.srv.exportLimiter.SetLimit(1)
	ts.srv.exportLimiter.SetBurst(1)

	for i := 0; i < 5; i++ {
		rec := ts.do(t, http.MethodGet, "/api/v1/exports", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
