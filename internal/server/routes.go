package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/conticomp/xprotect-export/internal/errors"
	"github.com/conticomp/xprotect-export/internal/export"
	"github.com/conticomp/xprotect-export/pkg/version"
)

// exportRequest is the body of POST /api/v1/exports. Times are RFC 3339.
type exportRequest struct {
	CameraID  string `json:"camera_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// handleVersion handles the /version endpoint.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := s.writeJSON(w, http.StatusOK, version.GetInfo()); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

// handleListCameras proxies the management server's camera inventory.
func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.milestone.Authenticated() {
		if err := s.milestone.Authenticate(ctx); err != nil {
			s.writeError(w, r, errors.WrapUpstreamError(err, "Failed to authenticate with the management server"))
			return
		}
	}

	cameras, err := s.milestone.Cameras(ctx)
	if err != nil {
		s.writeError(w, r, errors.WrapUpstreamError(err, "Failed to list cameras"))
		return
	}

	response := struct {
		Cameras interface{} `json:"cameras"`
	}{Cameras: cameras}
	if err := s.writeJSON(w, http.StatusOK, response); err != nil {
		s.logger.WithError(err).Error("Failed to encode camera list")
	}
}

// handleCreateExport validates and submits an export job. The job runs in
// the background; the response carries its id for polling.
func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errors.NewValidationError("Invalid request body"))
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		s.writeError(w, r, errors.NewValidationError("start_time must be an RFC 3339 timestamp"))
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		s.writeError(w, r, errors.NewValidationError("end_time must be an RFC 3339 timestamp"))
		return
	}

	job, err := s.exporter.Submit(r.Context(), req.CameraID, start, end)
	if err != nil {
		s.writeError(w, r, errors.Wrap(err, errors.ErrorTypeValidation, err.Error(), http.StatusBadRequest))
		return
	}

	if err := s.writeJSON(w, http.StatusAccepted, job); err != nil {
		s.logger.WithError(err).Error("Failed to encode export job")
	}
}

// handleListExports returns all jobs in the registry.
func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.exporter.Jobs(r.Context())
	if err != nil {
		s.writeError(w, r, errors.WrapInternalError(err, "Failed to list export jobs"))
		return
	}

	response := struct {
		Exports []*export.Job `json:"exports"`
	}{Exports: jobs}
	if err := s.writeJSON(w, http.StatusOK, response); err != nil {
		s.logger.WithError(err).Error("Failed to encode export list")
	}
}

// handleGetExport returns one job by id.
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if err := s.writeJSON(w, http.StatusOK, job); err != nil {
		s.logger.WithError(err).Error("Failed to encode export job")
	}
}

// handleDownloadExport streams a completed job's MP4 file.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	if job.Status != export.StatusComplete {
		s.writeError(w, r, errors.NewConflictError("Export is not complete"))
		return
	}

	path := s.exporter.FilePath(job.Filename)
	if _, err := os.Stat(path); err != nil {
		s.writeError(w, r, errors.NewNotFoundError("export file"))
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.Filename+`"`)
	http.ServeFile(w, r, path)
}

// lookupJob resolves the {id} path variable, writing the error response on
// failure.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*export.Job, bool) {
	id := mux.Vars(r)["id"]

	job, err := s.exporter.Job(r.Context(), id)
	if err != nil {
		if err == export.ErrJobNotFound {
			s.writeError(w, r, errors.NewNotFoundError("export job"))
		} else {
			s.writeError(w, r, errors.WrapInternalError(err, "Failed to load export job"))
		}
		return nil, false
	}
	return job, true
}

// writeJSON is a helper to write JSON responses.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// writeError is a helper to write error responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
