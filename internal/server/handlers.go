package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/slidesmith/pptx-pipeline/internal/jobs"
	"github.com/slidesmith/pptx-pipeline/internal/pipeline"
	"github.com/slidesmith/pptx-pipeline/internal/pptx"
	"github.com/slidesmith/pptx-pipeline/internal/storage"
	"github.com/slidesmith/pptx-pipeline/internal/types"
)

const signedURLTTL = time.Hour

// ProcessResponse is the response for POST /v1/process.
type ProcessResponse struct {
	JobID      string `json:"job_id"`
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
}

// ExportRequest is the request body for POST /v1/export.
type ExportRequest struct {
	SessionID    string             `json:"session_id"`
	Translations types.Translations `json:"translations,omitempty"`
}

// ExportResponse is the response for POST /v1/export.
type ExportResponse struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// handleProcess accepts a deck upload and queues it for processing. The
// document ID is the SHA-256 of the upload, so resubmitting the same file
// targets the same artifacts and can be answered from the result cache.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	// Reject broken uploads synchronously; only renderable decks enter
	// the queue.
	if _, err := pptx.Open(data); err != nil {
		s.failWith(w, err)
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sum := sha256.Sum256(data)
	documentID := hex.EncodeToString(sum[:])

	if err := s.store.Put(r.Context(), storage.SourceKey(documentID), data,
		"application/vnd.openxmlformats-officedocument.presentationml.presentation"); err != nil {
		s.failWith(w, err)
		return
	}

	job := jobs.NewJob(jobs.KindProcess, sessionID, documentID)
	job.MaxAttempts = s.cfg.MaxAttempts
	job.ForceRegenerate = r.FormValue("force_regenerate") == "true"
	job.GenerateThumbnails = r.FormValue("generate_thumbnails") == "true"
	if err := s.orch.Enqueue(r.Context(), job); err != nil {
		s.failWith(w, err)
		return
	}

	// Language hints are informational; the pipeline never translates.
	s.log.Info().
		Str("job_id", job.ID).
		Str("document_id", documentID).
		Str("source_language", r.FormValue("source_language")).
		Str("target_language", r.FormValue("target_language")).
		Msg("document accepted")

	s.jsonResponse(w, http.StatusAccepted, ProcessResponse{
		JobID:      job.ID,
		SessionID:  sessionID,
		DocumentID: documentID,
		Status:     string(job.Status),
		Progress:   job.Progress,
	})
}

// handleStatus returns the current state of a job.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobStore.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.failWith(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

// handleRetry requeues a failed job. Jobs that already used every attempt
// report conflict.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Retry(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.failWith(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, job)
}

type slideView struct {
	types.Slide
	SVGURL       string `json:"svg_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type resultsView struct {
	types.Presentation
	Slides []slideView `json:"slides"`
}

// handleResults returns the processed result tree, with signed URLs for
// the slide images. The path accepts either a session ID (resolved through
// its manifest) or a document ID directly.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	pres, err := s.loadResults(r.Context(), r.PathValue("id"))
	if err != nil {
		s.failWith(w, err)
		return
	}

	view := resultsView{Presentation: *pres, Slides: make([]slideView, 0, len(pres.Slides))}
	for _, slide := range pres.Slides {
		sv := slideView{Slide: slide}
		if url, err := s.store.SignedURL(slide.SVGPath, signedURLTTL); err == nil {
			sv.SVGURL = url
		}
		if slide.ThumbnailPath != "" {
			if url, err := s.store.SignedURL(slide.ThumbnailPath, signedURLTTL); err == nil {
				sv.ThumbnailURL = url
			}
		}
		view.Slides = append(view.Slides, sv)
	}
	s.jsonResponse(w, http.StatusOK, view)
}

func (s *Server) loadResults(ctx context.Context, id string) (*types.Presentation, error) {
	documentID := id
	manifestData, err := s.store.Get(ctx, storage.SessionKey(id))
	switch {
	case err == nil:
		var manifest pipeline.SessionManifest
		if err := json.Unmarshal(manifestData, &manifest); err != nil {
			return nil, fmt.Errorf("decode session manifest: %w", err)
		}
		documentID = manifest.DocumentID
	case !errors.Is(err, storage.ErrNotExist):
		return nil, err
	}
	resultData, err := s.store.Get(ctx, storage.ResultKey(documentID))
	if err != nil {
		return nil, err
	}
	var pres types.Presentation
	if err := json.Unmarshal(resultData, &pres); err != nil {
		return nil, fmt.Errorf("decode result document: %w", err)
	}
	return &pres, nil
}

// handlePutTranslations stores the session's translated text, consumed by
// the next export.
func (s *Server) handlePutTranslations(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	var translations types.Translations
	if err := json.NewDecoder(r.Body).Decode(&translations); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid translations body: "+err.Error())
		return
	}
	payload, err := json.Marshal(translations)
	if err != nil {
		s.failWith(w, err)
		return
	}
	if err := s.store.Put(r.Context(), storage.TranslationsKey(sessionID), payload, "application/json"); err != nil {
		s.failWith(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExport queues reconstruction of a translated deck.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "session_id is required")
		return
	}

	// The session must have a processed document before it can export.
	if _, err := s.store.Get(r.Context(), storage.SessionKey(req.SessionID)); err != nil {
		s.failWith(w, err)
		return
	}

	if req.Translations != nil {
		payload, err := json.Marshal(req.Translations)
		if err != nil {
			s.failWith(w, err)
			return
		}
		if err := s.store.Put(r.Context(), storage.TranslationsKey(req.SessionID), payload, "application/json"); err != nil {
			s.failWith(w, err)
			return
		}
	}

	job := jobs.NewJob(jobs.KindExport, req.SessionID, "")
	job.MaxAttempts = s.cfg.MaxAttempts
	if err := s.orch.Enqueue(r.Context(), job); err != nil {
		s.failWith(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, ExportResponse{
		JobID:     job.ID,
		SessionID: req.SessionID,
		Status:    string(job.Status),
	})
}

// handleExportDownload returns a signed URL for the session's most recent
// finished export.
func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	job, err := s.jobStore.FindLatest(r.Context(), sessionID, jobs.KindExport)
	if err != nil {
		s.failWith(w, err)
		return
	}
	switch job.Status {
	case jobs.StatusQueued, jobs.StatusProcessing:
		s.errorResponse(w, http.StatusConflict, "export still in progress")
		return
	case jobs.StatusFailed:
		s.errorResponse(w, http.StatusConflict, "export failed: "+job.ErrorMessage)
		return
	}

	url, err := s.store.SignedURL(job.ResultKey, signedURLTTL)
	if err != nil {
		s.failWith(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"job_id":       job.ID,
		"download_url": url,
		"expires_in":   int(signedURLTTL.Seconds()),
	})
}

// handleFiles serves signed artifact URLs for the local storage backend.
// With GCS the signed URLs point at the bucket directly and this endpoint
// is never handed out.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if s.local == nil {
		s.errorResponse(w, http.StatusNotFound, "file serving not enabled")
		return
	}
	key := r.PathValue("key")
	q := r.URL.Query()
	if !s.local.VerifySignature(key, q.Get("expires"), q.Get("signature")) {
		s.errorResponse(w, http.StatusForbidden, "invalid or expired signature")
		return
	}
	data, err := s.store.Get(r.Context(), key)
	if err != nil {
		s.failWith(w, err)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

// handleHealth reports component health. The service stays up while the
// renderer bridge is down (fallback rendering), so a dead bridge degrades
// rather than fails the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]string{}
	status := "ok"
	httpStatus := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		components["storage"] = err.Error()
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		components["storage"] = "ok"
	}

	if err := s.jobStore.Ping(ctx); err != nil {
		components["jobs"] = err.Error()
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		components["jobs"] = "ok"
	}

	switch {
	case s.renderer.Degraded():
		components["renderer"] = "degraded: circuit open, using fallback"
		if status == "ok" {
			status = "degraded"
		}
	default:
		if err := s.renderer.Healthy(ctx); err != nil {
			components["renderer"] = "degraded: " + err.Error()
			if status == "ok" {
				status = "degraded"
			}
		} else {
			components["renderer"] = "ok"
		}
	}

	if err := s.cache.Ping(ctx); err != nil {
		components["cache"] = "degraded: " + err.Error()
		if status == "ok" {
			status = "degraded"
		}
	} else {
		components["cache"] = "ok"
	}

	s.jsonResponse(w, httpStatus, map[string]any{
		"status":     status,
		"components": components,
	})
}

// handleMetrics exposes orchestrator counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.orch.Metrics())
}
