package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"vocalytics/internal/apperr"
	"vocalytics/internal/ingest"
	"vocalytics/internal/jobs"
	"vocalytics/internal/models"
	"vocalytics/internal/render"
	"vocalytics/internal/transcribe"
	"vocalytics/templates"
)

func (a *App) viewer(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	jobID := r.URL.Query().Get("job")
	if jobID != "" {
		if _, err := a.ownedJob(r, jobID); err != nil {
			jobID = ""
		}
	}

	var recent []templates.JobRow
	for _, s := range a.jobs.Recent(sess.Username, 10) {
		recent = append(recent, templates.JobRow{ID: s.Job.Name, Status: s.Job.Status, UpdatedAt: s.UpdatedAt, Error: s.Err})
	}
	a.render(w, r, templates.ViewerPage(a.nav(r), a.takeFlash(w, r), jobID, recent))
}

func (a *App) upload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		a.logger.Warn("invalid multipart upload", "error", err)
		a.setFlash(w, "error", "Error uploading file.")
		http.Redirect(w, r, "/viewer", http.StatusSeeOther)
		return
	}

	var f *ingest.File
	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		a.logger.Warn("could not read uploaded file", "error", err)
		a.setFlash(w, "error", "Error uploading file.")
		http.Redirect(w, r, "/viewer", http.StatusSeeOther)
		return
	default:
		defer file.Close()
		f = &ingest.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		}
	}

	ref, err := a.ingest.Upload(r.Context(), sess, f)
	if err != nil {
		a.setFlash(w, "error", apperr.Message(err))
		http.Redirect(w, r, "/viewer", http.StatusSeeOther)
		return
	}

	h, err := a.orchestrator.StartJob(r.Context(), sess, ref, a.languageCode)
	if err != nil {
		a.logger.Error("could not start transcription", "media", ref.Key, "error", err)
		a.setFlash(w, "error", apperr.Message(err))
		http.Redirect(w, r, "/viewer", http.StatusSeeOther)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.jobs.Add(h.Job(), cancel)
	go a.runJob(ctx, cancel, h)

	http.Redirect(w, r, "/viewer?job="+url.QueryEscape(h.Name()), http.StatusSeeOther)
}

func (a *App) runJob(ctx context.Context, cancel context.CancelFunc, h *transcribe.JobHandle) {
	defer cancel()
	id := h.Name()

	a.jobs.Broadcast(id, models.ProgressEvent{ID: id, Status: models.StatusInProgress, Message: "Transcription in progress..."})
	res, err := a.orchestrator.PollUntilTerminal(ctx, h, func(job models.TranscriptionJob) {
		a.jobs.Update(id, func(s *jobs.Snapshot) { s.Job = job })
		a.jobs.Broadcast(id, models.ProgressEvent{ID: id, Status: job.Status, Message: "Transcription in progress..."})
	})

	job := h.Job()
	switch {
	case err == nil:
		a.jobs.Update(id, func(s *jobs.Snapshot) {
			s.Job = job
			s.Text = res.Text
			s.Segments = res.Segments
		})
		a.jobs.Broadcast(id, models.ProgressEvent{
			ID:            id,
			Status:        models.StatusCompleted,
			Message:       "Transcription completed.",
			TranscriptURL: "/jobs/" + url.PathEscape(id) + "/transcript",
			DetailURL:     "/transcripts/" + url.PathEscape(id),
		})
	case errors.Is(err, context.Canceled):
		a.jobs.Update(id, func(s *jobs.Snapshot) { s.Job = job })
		a.jobs.Broadcast(id, models.ProgressEvent{ID: id, Status: models.StatusCancelled, Message: "Transcription stopped."})
	default:
		a.logger.Error("transcription job failed", "job_id", id, "error", err)
		msg := apperr.Message(err)
		a.jobs.Update(id, func(s *jobs.Snapshot) {
			s.Job = job
			s.Job.Status = models.StatusFailed
			s.Err = msg
		})
		a.jobs.Broadcast(id, models.ProgressEvent{ID: id, Status: models.StatusFailed, Error: msg})
	}
}

func (a *App) ownedJob(r *http.Request, id string) (jobs.Snapshot, error) {
	snap, ok := a.jobs.Get(id)
	if !ok {
		return jobs.Snapshot{}, apperr.ErrJobNotFound
	}
	if snap.Job.Owner != sessionFrom(r).Username {
		return jobs.Snapshot{}, apperr.ErrForbidden
	}
	return snap, nil
}

func (a *App) jobTranscript(w http.ResponseWriter, r *http.Request) {
	snap, err := a.ownedJob(r, chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, err)
		return
	}
	if snap.Job.Status != models.StatusCompleted {
		a.respondJSON(w, http.StatusConflict, map[string]string{"error": "Transcription is not ready yet.", "status": string(snap.Job.Status)})
		return
	}
	a.render(w, r, templates.Transcript(render.Render(snap.Segments, a.viewerOpts)))
}

func (a *App) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.ownedJob(r, id); err != nil {
		a.respondError(w, err)
		return
	}
	if !a.jobs.Cancel(id) {
		a.respondJSON(w, http.StatusConflict, map[string]string{"status": "already_finished"})
		return
	}
	a.logger.Info("transcription cancelled by user", "job_id", id)
	a.respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "job_id": id})
}

func (a *App) jobWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.ownedJob(r, id); err != nil {
		a.respondError(w, err)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sub := &wsConn{conn: conn}
	if !a.jobs.Subscribe(id, sub) {
		_ = conn.Close()
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	a.jobs.Unsubscribe(id, sub)
}
