package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/maplink/internal/facet"
	"github.com/sells-group/maplink/internal/job"
	"github.com/sells-group/maplink/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readUpload returns the bytes and file name of the multipart "file" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, "", false
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return nil, "", false
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read upload")
		return nil, "", false
	}
	return data, filepath.Base(hdr.Filename), true
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	doc, name, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	idx, err := facet.Scan(doc, s.cfg.Sheet)
	if err != nil {
		s.log.Warn("scan failed", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusBadRequest, "cannot read document")
		return
	}
	if r.URL.Query().Get("mode") == "unique" {
		writeJSON(w, http.StatusOK, idx.Unique())
		return
	}
	writeJSON(w, http.StatusOK, idx.Result())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	doc, name, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	opts := model.JobOptions{
		Project:   r.FormValue("projectCode"),
		Province:  r.FormValue("province"),
		District:  r.FormValue("district"),
		Survey:    r.FormValue("surveyInfo"),
		Headless:  formBool(r.FormValue("headless")),
		ResumeKey: r.FormValue("resumeKey"),
	}
	s.saveUpload(name, doc)

	id, err := s.cfg.Jobs.Start(r.Context(), doc, name, opts)
	switch {
	case errors.Is(err, job.ErrJobRunning):
		writeError(w, http.StatusConflict, "a job is already running")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": "started"})
}

// saveUpload keeps a copy of the uploaded document. Failures are logged only.
func (s *Server) saveUpload(name string, doc []byte) {
	if s.cfg.UploadDir == "" {
		return
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.log.Warn("save upload", zap.Error(err))
		return
	}
	f, err := os.CreateTemp(s.cfg.UploadDir, time.Now().Format("20060102-150405")+"_*_"+name)
	if err != nil {
		s.log.Warn("save upload", zap.Error(err))
		return
	}
	defer f.Close() //nolint:errcheck
	if _, err := f.Write(doc); err != nil {
		s.log.Warn("save upload", zap.String("path", f.Name()), zap.Error(err))
	}
}

func formBool(v string) bool {
	v = strings.TrimSpace(v)
	if v == "on" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("jobId")
	if id == "" && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			JobID string `json:"jobId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		id = body.JobID
	}

	if err := s.cfg.Jobs.Stop(id); err != nil {
		if errors.Is(err, job.ErrNoJob) {
			writeError(w, http.StatusNotFound, "no running job")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	j, ok := s.cfg.Jobs.Status()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"state": string(model.JobStateIdle)})
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleEvents streams bus events as Server-Sent Events until the client
// goes away or the bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, cancel := s.cfg.Jobs.Bus().Subscribe(0)
	defer cancel()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("encode event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.cfg.Jobs.OutputDir(), name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}
