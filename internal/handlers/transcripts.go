package handlers

import (
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"vocalytics/internal/apperr"
	"vocalytics/internal/comments"
	"vocalytics/internal/models"
	"vocalytics/internal/render"
	"vocalytics/templates"
)

func (a *App) dashboard(w http.ResponseWriter, r *http.Request) {
	flash := a.takeFlash(w, r)
	rows, err := a.records.List(r.Context(), sessionFrom(r))
	notice := ""
	if err != nil {
		if errors.Is(err, apperr.ErrIndexMissing) {
			a.logger.Error("owner index missing", "error", err)
			notice = apperr.Message(apperr.ErrIndexMissing)
		} else {
			a.logger.Error("could not list transcripts", "error", err)
			flash = errorFlash(err)
		}
	}
	a.render(w, r, templates.DashboardPage(a.nav(r), flash, rows, notice))
}

func (a *App) transcriptDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := sessionFrom(r)
	d, err := a.records.Detail(r.Context(), sess, id)
	if err != nil {
		a.logger.Info("transcript unavailable", "transcript_id", id, "error", err)
		a.setFlash(w, "error", apperr.Message(err))
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	list, err := a.comments.List(r.Context(), sess, id)
	if err != nil {
		a.logger.Warn("could not load comments", "transcript_id", id, "error", err)
	}

	view := templates.DetailView{
		ID:        d.Record.ID,
		CreatedAt: d.Record.CreatedAt,
		MediaURL:  d.MediaURL,
		MediaKind: d.MediaKind,
		Pieces:    render.Render(d.Record.Segments, a.detailOpts),
		Comments:  list,
	}
	if d.Notice != nil {
		view.Notice = apperr.Message(d.Notice)
	}
	a.render(w, r, templates.DetailPage(a.nav(r), a.takeFlash(w, r), view))
}

func (a *App) deleteTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.records.Delete(r.Context(), sessionFrom(r), id)
	switch {
	case err == nil:
		a.setFlash(w, "success", "Transcript deleted.")
	case errors.Is(err, apperr.ErrOrphanedMedia):
		a.logger.Error("transcript deleted with orphaned media", "transcript_id", id, "error", err)
		a.setFlash(w, "error", apperr.Message(err))
	default:
		a.logger.Error("could not delete transcript", "transcript_id", id, "error", err)
		a.setFlash(w, "error", apperr.Message(err))
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (a *App) listComments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	list, err := a.comments.List(r.Context(), sessionFrom(r), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		a.respondJSON(w, http.StatusOK, list)
		return
	}
	a.render(w, r, templates.Comments(list))
}

func (a *App) addComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	draft := comments.Draft{
		SelectionID: r.PostFormValue("selection_id"),
		Body:        r.PostFormValue("body"),
	}
	back := "/transcripts/" + url.PathEscape(id) + "#comment-form"
	if raw := r.PostFormValue("anchor_time"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			a.setFlash(w, "error", apperr.Message(comments.ErrBadAnchor))
			http.Redirect(w, r, back, http.StatusSeeOther)
			return
		}
		draft.AnchorTime = v
		if draft.SelectionID != "" {
			draft.Anchor = render.FormatTime(v, render.ClockMinSec)
		}
	}

	if _, err := a.comments.Add(r.Context(), sessionFrom(r), id, draft); err != nil {
		a.setFlash(w, "error", apperr.Message(err))
	} else {
		a.setFlash(w, "success", "Comment added.")
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// playbackWS answers every playback position with the segment to highlight.
func (a *App) playbackWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := a.records.Detail(r.Context(), sessionFrom(r), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	segments := d.Record.Segments

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var pos models.PlaybackPosition
		if err := conn.ReadJSON(&pos); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug("playback socket closed", "transcript_id", id, "error", err)
			}
			return
		}
		if err := conn.WriteJSON(models.Highlight{Index: render.Highlight(segments, pos.Time)}); err != nil {
			return
		}
	}
}
