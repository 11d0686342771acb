package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fcs7/translate-php-tool/internal/archive"
	"github.com/fcs7/translate-php-tool/internal/config"
	"github.com/fcs7/translate-php-tool/internal/domain"
	"github.com/fcs7/translate-php-tool/internal/events"
	"github.com/fcs7/translate-php-tool/internal/job"
)

// createJobResponse is returned by POST /jobs.
type createJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// HandleCreateJob accepts a multipart upload and admits a new translation
// job. Two upload shapes are supported:
//
//   - a single "archive" file field (zip, tar.gz, tar.bz2 or rar), which is
//     extracted server-side, or
//   - repeated "files" fields paired positionally with "paths" form values
//     giving each file's relative path in the tree.
//
// Optional form values: "delay" (inter-batch seconds, clamped to the
// allowed range) and "owner".
func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.Uploads != nil {
		if ok, wait := s.Uploads.Allow(clientIP(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			errorJSON(w, "uploads from this address are rate limited", "RESOURCE_EXHAUSTED", http.StatusTooManyRequests)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		errorJSON(w, "invalid multipart upload: "+err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	delay := s.Config.DelaySeconds
	if v := r.FormValue("delay"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errorJSON(w, "delay must be a number of seconds", "INVALID_ARGUMENT", http.StatusBadRequest)
			return
		}
		delay = config.ClampDelay(f)
	}

	id := job.NewID()
	j := job.New(id, r.FormValue("owner"), filepath.Join(s.Config.DataDir, id), time.Duration(delay*float64(time.Second)))

	if err := os.MkdirAll(j.InputDir(), 0o755); err != nil {
		internalError(w, "failed to create job directory", err)
		return
	}
	cleanup := func() { _ = os.RemoveAll(j.Dir) }

	if err := s.receiveUpload(r, j); err != nil {
		cleanup()
		errorJSON(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	if err := s.Registry.Add(j); err != nil {
		cleanup()
		if errors.Is(err, domain.ErrTooManyJobs) {
			w.Header().Set("Retry-After", "30")
			errorJSON(w, "too many concurrent jobs, retry later", "RESOURCE_EXHAUSTED", http.StatusTooManyRequests)
			return
		}
		internalError(w, "failed to admit job", err)
		return
	}
	s.Registry.Persist(r.Context(), j)

	// The job outlives the request; detach it from the request context.
	go s.Runner.Run(context.Background(), j)

	LoggerFromContext(r.Context()).Info("job accepted", "job_id", id)
	writeJSON(w, http.StatusAccepted, createJobResponse{JobID: id, Status: string(j.Status())})
}

// receiveUpload materializes the uploaded tree into the job's input dir.
func (s *Server) receiveUpload(r *http.Request, j *job.Job) error {
	form := r.MultipartForm

	if archives := form.File["archive"]; len(archives) > 0 {
		fh := archives[0]
		if !archive.SupportedArchive(fh.Filename) {
			return fmt.Errorf("unsupported archive format: %s", fh.Filename)
		}
		archivePath := filepath.Join(j.Dir, "upload"+strings.ToLower(filepath.Ext(fh.Filename)))
		if strings.HasSuffix(strings.ToLower(fh.Filename), ".tar.gz") {
			archivePath = filepath.Join(j.Dir, "upload.tar.gz")
		} else if strings.HasSuffix(strings.ToLower(fh.Filename), ".tar.bz2") {
			archivePath = filepath.Join(j.Dir, "upload.tar.bz2")
		}
		if err := saveMultipartFile(fh, archivePath); err != nil {
			return fmt.Errorf("store upload: %w", err)
		}
		if err := archive.Extract(r.Context(), archivePath, j.InputDir()); err != nil {
			return fmt.Errorf("extract archive: %w", err)
		}
		return nil
	}

	files := form.File["files"]
	paths := form.Value["paths"]
	if len(files) == 0 {
		return fmt.Errorf("upload requires an archive field or files fields")
	}
	if len(paths) != len(files) {
		return fmt.Errorf("files and paths counts differ (%d vs %d)", len(files), len(paths))
	}

	for i, fh := range files {
		rel := filepath.Clean(filepath.FromSlash(paths[i]))
		if rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
			return fmt.Errorf("invalid file path: %s", paths[i])
		}
		if err := saveMultipartFile(fh, filepath.Join(j.InputDir(), rel)); err != nil {
			return fmt.Errorf("store %s: %w", rel, err)
		}
	}
	return nil
}

func saveMultipartFile(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return out.Close()
}

// HandleListJobs returns snapshots of live and mirrored jobs, newest first.
// The optional owner query parameter filters the listing.
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.Registry.ListMerged(r.Context(), r.URL.Query().Get("owner"))
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// HandleGetJob returns one job's snapshot.
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.Registry.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		errorJSON(w, "job not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

// HandleCancelJob flags a running or pending job for cancellation. The
// workers stop at the next batch boundary, so the transition to the
// cancelled state is asynchronous.
func (s *Server) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.Registry.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		errorJSON(w, "job not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if j.Status().Terminal() {
		errorJSON(w, "job already finished", "INVALID_STATE", http.StatusConflict)
		return
	}
	j.Cancel()
	LoggerFromContext(r.Context()).Info("job cancel requested", "job_id", j.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": j.ID, "status": "cancelling"})
}

// HandleDeleteJob removes a terminal job: its directory, registry entry,
// durable mirror row, and mirrored artifacts.
func (s *Server) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.Registry.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		errorJSON(w, "job not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if !j.Status().Terminal() {
		errorJSON(w, "job is still running, cancel it first", "INVALID_STATE", http.StatusConflict)
		return
	}

	if err := os.RemoveAll(j.Dir); err != nil {
		internalError(w, "failed to remove job data", err)
		return
	}
	if s.Artifacts != nil {
		if err := s.Artifacts.RemoveJob(r.Context(), j.ID); err != nil {
			LoggerFromContext(r.Context()).Warn("mirrored artifact removal failed", "job_id", j.ID, "error", err)
		}
	}
	if err := s.Registry.Remove(r.Context(), j.ID); err != nil {
		internalError(w, "failed to remove job", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDownloadOutput serves the translated tree as a zip.
func (s *Server) HandleDownloadOutput(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, job.OutputZipName, "application/zip")
}

// HandleDownloadVoipnow serves the VoipNow language pack.
func (s *Server) HandleDownloadVoipnow(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, job.VoipnowTarName, "application/gzip")
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, name, contentType string) {
	j, err := s.Registry.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		errorJSON(w, "job not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if j.Status() != domain.JobStatusCompleted {
		errorJSON(w, "job has no artifacts yet", "INVALID_STATE", http.StatusConflict)
		return
	}

	path := filepath.Join(j.Dir, name)
	if _, err := os.Stat(path); err != nil {
		errorJSON(w, "artifact not found", "NOT_FOUND", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", j.ID+"-"+name))
	http.ServeFile(w, r, path)
}

// HandleEngineStats reports the cache and provider counters.
func (s *Server) HandleEngineStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Stats())
}

// sseHeartbeatInterval keeps intermediaries from idling out quiet streams.
const sseHeartbeatInterval = 15 * time.Second

// HandleJobEvents streams the job's lifecycle events as Server-Sent
// Events. The stream closes after a terminal event, on client disconnect,
// or when the maximum connection lifetime is reached.
func (s *Server) HandleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	j, err := s.Registry.Get(jobID)
	if err != nil {
		errorJSON(w, "job not found", "NOT_FOUND", http.StatusNotFound)
		return
	}

	ip := clientIP(r)
	if !s.SSELimiter.Acquire(ip) {
		errorJSON(w, "too many SSE connections", "RESOURCE_EXHAUSTED", http.StatusTooManyRequests)
		return
	}
	defer s.SSELimiter.Release(ip)

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(MaxSSEDurationSeconds)*time.Second)
	defer cancel()

	ch, unsubscribe := s.Hub.Subscribe(jobID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	sendEvent := func(kind string, payload any) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
		flush()
	}

	// A subscriber joining after the fact still learns the outcome.
	if snap := j.Snapshot(); snap.Status.Terminal() {
		sendEvent(terminalEventKind(snap.Status), events.Event{
			JobID:     jobID,
			Timestamp: time.Now().UTC(),
			Status:    string(snap.Status),
			Report:    snap.Validation,
		})
		return
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sendEvent(ev.Kind, ev)
			if ev.Kind == events.KindComplete || ev.Kind == events.KindError {
				return
			}
		}
	}
}

func terminalEventKind(status domain.JobStatus) string {
	if status == domain.JobStatusFailed {
		return events.KindError
	}
	return events.KindComplete
}
