package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vocalytics/internal/auth"
	"vocalytics/internal/comments"
	"vocalytics/internal/ingest"
	"vocalytics/internal/jobs"
	"vocalytics/internal/models"
	"vocalytics/internal/records"
	"vocalytics/internal/render"
	"vocalytics/internal/storage"
	"vocalytics/internal/transcribe"
)

type testEnv struct {
	app     *App
	auth    *auth.Memory
	objects *storage.Memory
	records *records.Memory
	jobs    *jobs.Tracker
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := auth.NewMemory(logger)
	objects := storage.NewMemory("vocalytics-bucket", "us-east-1")
	recordStore := records.NewMemory()
	commentSvc := comments.NewService(logger, comments.NewMemory(), recordStore)
	recordSvc := records.NewService(logger, recordStore, objects, commentSvc)
	orch := transcribe.NewOrchestrator(logger,
		transcribe.NewLocalClient(objects, 0),
		transcribe.NewDocumentFetcher(objects, nil),
		recordSvc,
		objects.Bucket(),
		transcribe.WithPollInterval(5*time.Millisecond),
	)
	tracker := jobs.NewTracker(logger)
	t.Cleanup(tracker.Shutdown)

	app := NewApp(logger, Deps{
		Auth:         provider,
		Ingest:       ingest.NewService(logger, objects),
		Orchestrator: orch,
		Records:      recordSvc,
		Comments:     commentSvc,
		Jobs:         tracker,
		LanguageCode: "en-US",
		ViewerPolicy: render.DefaultViewerPolicy,
		DetailPolicy: render.DefaultDetailPolicy,
	})
	return &testEnv{app: app, auth: provider, objects: objects, records: recordStore, jobs: tracker}
}

// signIn registers email and returns its session cookie.
func (e *testEnv) signIn(t *testing.T, email string) *http.Cookie {
	t.Helper()
	ctx := context.Background()
	if err := e.auth.SignUp(ctx, email, "secret1"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := e.auth.ConfirmSignUp(ctx, email, e.auth.Code(email)); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	res, err := e.auth.Authenticate(ctx, email, "secret1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return &http.Cookie{Name: sessionCookie, Value: res.Tokens.AccessToken}
}

func (e *testEnv) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.app.Router().ServeHTTP(rec, req)
	return rec
}

func flashOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == flashCookie && c.Value != "" {
			v, err := url.ParseQuery(c.Value)
			if err != nil {
				t.Fatalf("flash cookie: %v", err)
			}
			return v.Get("m")
		}
	}
	return ""
}

func uploadRequest(t *testing.T, name, contentType, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = io.WriteString(part, body)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func waitForStatus(t *testing.T, tr *jobs.Tracker, id string, want models.JobStatus) jobs.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := tr.Get(id); ok && snap.Job.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := tr.Get(id)
	t.Fatalf("job %s status = %s, want %s", id, snap.Job.Status, want)
	return snap
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestProtectedPagesRedirectToLogin(t *testing.T) {
	env := newEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("dashboard = %d %s", rec.Code, rec.Header().Get("Location"))
	}
	rec = env.do(httptest.NewRequest(http.MethodPost, "/jobs/x/cancel", nil), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("cancel = %d", rec.Code)
	}
}

func TestLoginValidation(t *testing.T) {
	env := newEnv(t)
	rec := env.do(formRequest("/login", url.Values{"email": {"a@b.c"}, "password": {"123"}}), nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "must be 6 character") {
		t.Fatalf("login = %d", rec.Code)
	}
	rec = env.do(formRequest("/login", url.Values{}), nil)
	body := rec.Body.String()
	if !strings.Contains(body, "Email is Required") || !strings.Contains(body, "Password is required") {
		t.Fatal("missing field errors")
	}
}

func TestSignupVerifyLoginFlow(t *testing.T) {
	env := newEnv(t)
	rec := env.do(formRequest("/signup", url.Values{"email": {"bob@example.com"}, "password": {"secret1"}}), nil)
	if rec.Code != http.StatusSeeOther || !strings.HasPrefix(rec.Header().Get("Location"), "/verify?") {
		t.Fatalf("signup = %d %s", rec.Code, rec.Header().Get("Location"))
	}
	if flashOf(t, rec) != signupSuccess {
		t.Fatalf("flash = %q", flashOf(t, rec))
	}

	rec = env.do(formRequest("/login", url.Values{"email": {"bob@example.com"}, "password": {"secret1"}}), nil)
	if rec.Code != http.StatusSeeOther || !strings.HasPrefix(rec.Header().Get("Location"), "/verify?") {
		t.Fatalf("unconfirmed login = %d %s", rec.Code, rec.Header().Get("Location"))
	}

	code := env.auth.Code("bob@example.com")
	rec = env.do(formRequest("/verify", url.Values{"email": {"bob@example.com"}, "code": {code}}), nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("verify = %d", rec.Code)
	}

	rec = env.do(formRequest("/login", url.Values{"email": {"bob@example.com"}, "password": {"secret1"}}), nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("login = %d %s", rec.Code, rec.Header().Get("Location"))
	}
	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			session = c
		}
	}
	if session == nil || !session.HttpOnly || session.Value == "" {
		t.Fatalf("session cookie = %+v", session)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), session)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "No transcriptions yet") {
		t.Fatalf("dashboard = %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/logout", nil), session)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("logout = %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), session)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("dashboard after logout = %d", rec.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newEnv(t)
	env.signIn(t, "alice@example.com")
	rec := env.do(formRequest("/login", url.Values{"email": {"alice@example.com"}, "password": {"wrong-1"}}), nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Incorrect username or password.") {
		t.Fatalf("login = %d", rec.Code)
	}
}

func TestUploadValidation(t *testing.T) {
	env := newEnv(t)
	cookie := env.signIn(t, "alice@example.com")

	rec := env.do(uploadRequest(t, "", "", ""), cookie)
	if rec.Code != http.StatusSeeOther || flashOf(t, rec) != "Please select a file." {
		t.Fatalf("missing file = %d %q", rec.Code, flashOf(t, rec))
	}
	rec = env.do(uploadRequest(t, "notes.txt", "text/plain", "hi"), cookie)
	if flashOf(t, rec) != "Please upload a valid mp3 or mp4 file." {
		t.Fatalf("invalid type flash = %q", flashOf(t, rec))
	}
	if env.objects.Len() != 0 {
		t.Fatal("invalid upload stored")
	}
}

func TestUploadTranscribesAndPersists(t *testing.T) {
	env := newEnv(t)
	cookie := env.signIn(t, "alice@example.com")

	rec := env.do(uploadRequest(t, "talk.mp3", "audio/mpeg", "ID3data"), cookie)
	loc := rec.Header().Get("Location")
	if rec.Code != http.StatusSeeOther || !strings.HasPrefix(loc, "/viewer?job=") {
		t.Fatalf("upload = %d %s", rec.Code, loc)
	}
	id := strings.TrimPrefix(loc, "/viewer?job=")
	snap := waitForStatus(t, env.jobs, id, models.StatusCompleted)
	if len(snap.Segments) == 0 || snap.Text == "" {
		t.Fatalf("snapshot = %+v", snap)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/transcript", nil), cookie)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `id="segment-0"`) {
		t.Fatalf("transcript = %d", rec.Code)
	}

	saved, err := env.records.Get(context.Background(), id)
	if err != nil || saved.Owner != "alice@example.com" || saved.MediaKey != "talk.mp3" {
		t.Fatalf("record = %+v, %v", saved, err)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/transcripts/"+id, nil), cookie)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `<audio id="media"`) {
		t.Fatalf("detail = %d", rec.Code)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookie)
	if !strings.Contains(rec.Body.String(), "/transcripts/"+id) {
		t.Fatal("dashboard does not list transcript")
	}
}

func TestJobAccessIsOwnerScoped(t *testing.T) {
	env := newEnv(t)
	env.jobs.Add(models.TranscriptionJob{Name: "j1", Owner: "alice@example.com", Status: models.StatusInProgress}, func() {})
	bob := env.signIn(t, "bob@example.com")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/jobs/j1/transcript", nil), bob)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("transcript = %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodPost, "/jobs/j1/cancel", nil), bob)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cancel = %d", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/missing/transcript", nil), bob)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing = %d", rec.Code)
	}
}

func TestCancelJob(t *testing.T) {
	env := newEnv(t)
	cookie := env.signIn(t, "alice@example.com")
	cancelled := make(chan struct{})
	var once sync.Once
	env.jobs.Add(models.TranscriptionJob{Name: "j1", Owner: "alice@example.com", Status: models.StatusInProgress}, func() {
		once.Do(func() { close(cancelled) })
	})

	rec := env.do(httptest.NewRequest(http.MethodPost, "/jobs/j1/cancel", nil), cookie)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel = %d", rec.Code)
	}
	select {
	case <-cancelled:
	default:
		t.Fatal("cancel func not called")
	}
}

func TestDeleteTranscript(t *testing.T) {
	env := newEnv(t)
	cookie := env.signIn(t, "alice@example.com")
	ctx := context.Background()
	env.records.Save(ctx, &models.TranscriptRecord{ID: "t1", Owner: "alice@example.com", MediaKey: "talk.mp3"})
	_ = env.objects.Put(ctx, "talk.mp3", strings.NewReader("abc"), 3, "audio/mpeg")

	rec := env.do(httptest.NewRequest(http.MethodPost, "/transcripts/t1/delete", nil), cookie)
	if rec.Code != http.StatusSeeOther || flashOf(t, rec) != "Transcript deleted." {
		t.Fatalf("delete = %d %q", rec.Code, flashOf(t, rec))
	}
	if _, ok := env.objects.Object("talk.mp3"); ok {
		t.Fatal("media kept")
	}
}

func TestDashboardMissingIndexNotice(t *testing.T) {
	env := newEnv(t)
	cookie := env.signIn(t, "alice@example.com")
	env.records.OwnerIndexMissing = true

	rec := env.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookie)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "specified index") {
		t.Fatalf("dashboard = %d", rec.Code)
	}
}

func TestComments(t *testing.T) {
	env := newEnv(t)
	cookie := env.signIn(t, "alice@example.com")
	env.records.Save(context.Background(), &models.TranscriptRecord{ID: "t1", Owner: "alice@example.com"})

	rec := env.do(formRequest("/transcripts/t1/comments", url.Values{
		"selection_id": {"segment-4"}, "anchor_time": {"75"}, "body": {"Key point"},
	}), cookie)
	if rec.Code != http.StatusSeeOther || flashOf(t, rec) != "Comment added." {
		t.Fatalf("add = %d %q", rec.Code, flashOf(t, rec))
	}
	rec = env.do(formRequest("/transcripts/t1/comments", url.Values{"body": {" "}}), cookie)
	if flashOf(t, rec) != "Comment cannot be empty." {
		t.Fatalf("empty flash = %q", flashOf(t, rec))
	}

	for _, bad := range []string{"NaN", "Inf", "-inf", "soon"} {
		rec = env.do(formRequest("/transcripts/t1/comments", url.Values{
			"selection_id": {"segment-4"}, "anchor_time": {bad}, "body": {"Bad anchor"},
		}), cookie)
		if flashOf(t, rec) != "Comment position is invalid." {
			t.Fatalf("anchor_time %q flash = %q", bad, flashOf(t, rec))
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/transcripts/t1/comments", nil)
	req.Header.Set("Accept", "application/json")
	rec = env.do(req, cookie)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"anchor":"1:15"`) {
		t.Fatalf("list = %d %s", rec.Code, rec.Body.String())
	}
	var list []models.Comment
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %v (%v)", list, err)
	}
}

func dial(t *testing.T, srv *httptest.Server, path string, cookie *http.Cookie) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	h := http.Header{}
	h.Add("Cookie", cookie.String())
	conn, resp, err := websocket.DefaultDialer.Dial(u, h)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPlaybackHighlight(t *testing.T) {
	env := newEnv(t)
	cookie := env.signIn(t, "alice@example.com")
	env.records.Save(context.Background(), &models.TranscriptRecord{
		ID: "t1", Owner: "alice@example.com", MediaKey: "talk.mp3",
		Segments: []models.Segment{{Start: 0, Content: "a"}, {Start: 2, Content: "b"}, {Start: 4, Content: "c"}},
	})
	srv := httptest.NewServer(env.app.Router())
	defer srv.Close()

	conn := dial(t, srv, "/ws/transcripts/t1/playback", cookie)
	for _, tc := range []struct {
		t    float64
		want int
	}{{0.5, 0}, {2, 1}, {9, 2}} {
		if err := conn.WriteJSON(models.PlaybackPosition{Time: tc.t}); err != nil {
			t.Fatalf("write: %v", err)
		}
		var h models.Highlight
		if err := conn.ReadJSON(&h); err != nil {
			t.Fatalf("read: %v", err)
		}
		if h.Index != tc.want {
			t.Fatalf("t=%v index = %d, want %d", tc.t, h.Index, tc.want)
		}
	}
}

func TestJobWebSocketReceivesCompletion(t *testing.T) {
	env := newEnv(t)
	cookie := env.signIn(t, "alice@example.com")
	srv := httptest.NewServer(env.app.Router())
	defer srv.Close()

	rec := env.do(uploadRequest(t, "clip.mp4", "video/mp4", "ftyp"), cookie)
	id := strings.TrimPrefix(rec.Header().Get("Location"), "/viewer?job=")

	conn := dial(t, srv, "/ws/jobs/"+id, cookie)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var evt models.ProgressEvent
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read: %v", err)
		}
		if evt.Status == models.StatusCompleted {
			if evt.TranscriptURL != "/jobs/"+id+"/transcript" {
				t.Fatalf("event = %+v", evt)
			}
			return
		}
		if evt.Status == models.StatusFailed || evt.Status == models.StatusCancelled {
			t.Fatalf("event = %+v", evt)
		}
	}
}
