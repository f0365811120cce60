package templates

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"

	"vocalytics/internal/models"
	"vocalytics/internal/render"
)

const dateLayout = "Jan 2, 2006 15:04 MST"

// Nav describes the signed-in state shown in the header.
type Nav struct {
	SignedIn bool
	Email    string
}

// Flash is a one-shot message that fades out after a few seconds.
type Flash struct {
	Kind    string // "error" or "success"
	Message string
}

// AuthForm is the state of the login or sign-up form.
type AuthForm struct {
	Email  string
	Errors map[string]string
}

// VerifyForm is the state of the account verification form.
type VerifyForm struct {
	Email         string
	ChallengeName string
	Errors        map[string]string
}

// JobRow is a recent job listed on the viewer page.
type JobRow struct {
	ID        string
	Status    models.JobStatus
	UpdatedAt time.Time
	Error     string
}

// DetailView is the data of the transcript detail page.
type DetailView struct {
	ID        string
	CreatedAt time.Time
	MediaURL  string
	MediaKind string
	Notice    string
	Pieces    []render.Piece
	Comments  []models.Comment
}

// VerifyURL links to the verification page for email.
func VerifyURL(email, challenge string) string {
	q := url.Values{}
	q.Set("email", email)
	if challenge != "" {
		q.Set("challengeName", challenge)
	}
	return "/verify?" + q.Encode()
}

func transcriptURL(id string, action ...string) templ.SafeURL {
	parts := append([]string{"/transcripts", url.PathEscape(id)}, action...)
	return templ.URL(strings.Join(parts, "/"))
}

func viewerURL(jobID string) templ.SafeURL {
	return templ.URL("/viewer?job=" + url.QueryEscape(jobID))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func seekValue(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
