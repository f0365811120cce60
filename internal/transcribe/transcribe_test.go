package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/transcribeservice"
	"github.com/aws/aws-sdk-go/service/transcribeservice/transcribeserviceiface"

	"vocalytics/internal/apperr"
	"vocalytics/internal/auth"
	"vocalytics/internal/models"
	"vocalytics/internal/storage"
)

const sampleResult = `{
  "jobName": "transcription-1",
  "status": "COMPLETED",
  "results": {
    "transcripts": [{"transcript": "Hello world. Bye!"}],
    "items": [
      {"start_time": "0.04", "end_time": "0.5", "type": "pronunciation", "alternatives": [{"confidence": "0.99", "content": "Hello"}]},
      {"start_time": "0.51", "end_time": "0.9", "type": "pronunciation", "alternatives": [{"confidence": "0.98", "content": "world"}]},
      {"type": "punctuation", "alternatives": [{"confidence": "0.0", "content": "."}]},
      {"start_time": "1.2", "end_time": "1.5", "type": "pronunciation", "alternatives": [{"confidence": "0.97", "content": "Bye"}]},
      {"type": "punctuation", "alternatives": [{"confidence": "0.0", "content": "!"}]}
    ]
  }
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseResult(t *testing.T) {
	res, err := ParseResult([]byte(sampleResult))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Text != "Hello world. Bye!" {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Segments) != 5 {
		t.Fatalf("segments = %d, want 5", len(res.Segments))
	}
	if res.Segments[0].Start != 0.04 || res.Segments[0].Content != "Hello" {
		t.Fatalf("first segment = %+v", res.Segments[0])
	}
	if !math.IsNaN(res.Segments[2].Start) {
		t.Fatalf("punctuation start = %v, want NaN", res.Segments[2].Start)
	}
}

func TestParseResultMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"results":`,
		"no transcripts":    `{"results": {"transcripts": [], "items": []}}`,
		"no alternatives":   `{"results": {"transcripts": [{"transcript": "x"}], "items": [{"start_time": "1", "alternatives": []}]}}`,
		"decreasing starts": `{"results": {"transcripts": [{"transcript": "x"}], "items": [{"start_time": "2", "alternatives": [{"content": "a"}]}, {"start_time": "1", "alternatives": [{"content": "b"}]}]}}`,
	}
	for name, doc := range cases {
		if _, err := ParseResult([]byte(doc)); !errors.Is(err, apperr.ErrMalformedResult) {
			t.Fatalf("%s: error = %v, want ErrMalformedResult", name, err)
		}
	}
}

func TestParseResultKeepsGarbledStart(t *testing.T) {
	doc := `{"results": {"transcripts": [{"transcript": "a b"}], "items": [{"start_time": "abc", "alternatives": [{"content": "a"}]}, {"start_time": "3", "alternatives": [{"content": "b"}]}]}}`
	res, err := ParseResult([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Segments) != 2 || !math.IsNaN(res.Segments[0].Start) {
		t.Fatalf("segments = %+v", res.Segments)
	}
}

type fakeClient struct {
	mu        sync.Mutex
	submitted []SubmitRequest
	submitErr error
	states    []JobState
	errs      []error
	calls     int
}

func (f *fakeClient) Submit(_ context.Context, req SubmitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return f.submitErr
}

func (f *fakeClient) Status(_ context.Context, _ string) (JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return JobState{}, err
		}
	}
	if len(f.states) == 0 {
		return JobState{Status: models.StatusInProgress}, nil
	}
	s := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return s, nil
}

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeFetcher struct {
	data []byte
	err  error
	uris []string
}

func (f *fakeFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	f.uris = append(f.uris, uri)
	return f.data, f.err
}

type fakeRecords struct {
	saved []*models.TranscriptRecord
}

func (f *fakeRecords) Save(_ context.Context, rec *models.TranscriptRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

var testSession = auth.Session{Username: "alice"}

func newTestOrchestrator(client Client, fetcher Fetcher, records RecordWriter) *Orchestrator {
	fixed := time.UnixMilli(1700000000000)
	return NewOrchestrator(discardLogger(), client, fetcher, records, "vocalytics-bucket",
		WithPollInterval(time.Millisecond),
		WithClock(func() time.Time { return fixed }),
	)
}

func TestStartJob(t *testing.T) {
	client := &fakeClient{}
	o := newTestOrchestrator(client, &fakeFetcher{}, &fakeRecords{})
	media := models.MediaRef{Key: "talk.mp3", URL: "https://vocalytics-bucket.s3.us-east-1.amazonaws.com/talk.mp3"}

	h, err := o.StartJob(context.Background(), testSession, media, "en-US")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.Name() != "transcription-1700000000000" {
		t.Fatalf("job name = %q", h.Name())
	}
	if h.Job().Status != models.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", h.Job().Status)
	}
	want := SubmitRequest{JobName: h.Name(), LanguageCode: "en-US", MediaURI: media.URL, OutputBucket: "vocalytics-bucket"}
	if len(client.submitted) != 1 || client.submitted[0] != want {
		t.Fatalf("submitted = %+v, want %+v", client.submitted, want)
	}
}

func TestStartJobRequiresSession(t *testing.T) {
	o := newTestOrchestrator(&fakeClient{}, &fakeFetcher{}, &fakeRecords{})
	if _, err := o.StartJob(context.Background(), auth.Session{}, models.MediaRef{}, "en-US"); !errors.Is(err, apperr.ErrNotSignedIn) {
		t.Fatalf("error = %v, want ErrNotSignedIn", err)
	}
}

func TestStartJobSubmitError(t *testing.T) {
	o := newTestOrchestrator(&fakeClient{submitErr: errors.New("denied")}, &fakeFetcher{}, &fakeRecords{})
	if _, err := o.StartJob(context.Background(), testSession, models.MediaRef{}, "en-US"); err == nil {
		t.Fatal("expected submit error")
	}
}

func TestPollUntilCompleted(t *testing.T) {
	client := &fakeClient{
		states: []JobState{
			{Status: models.StatusInProgress},
			{Status: models.StatusInProgress},
			{Status: models.StatusCompleted, OutputURI: "https://s3.us-east-1.amazonaws.com/vocalytics-bucket/transcription-1700000000000.json"},
		},
		errs: []error{nil, errors.New("transient")},
	}
	fetcher := &fakeFetcher{data: []byte(sampleResult)}
	records := &fakeRecords{}
	o := newTestOrchestrator(client, fetcher, records)

	h, err := o.StartJob(context.Background(), testSession, models.MediaRef{Key: "talk.mp3"}, "en-US")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var progress int
	res, err := o.PollUntilTerminal(context.Background(), h, func(models.TranscriptionJob) { progress++ })
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Text != "Hello world. Bye!" {
		t.Fatalf("text = %q", res.Text)
	}
	if progress != 2 {
		t.Fatalf("progress callbacks = %d, want 2", progress)
	}
	if h.Job().Status != models.StatusCompleted {
		t.Fatalf("status = %s", h.Job().Status)
	}
	if len(fetcher.uris) != 1 || !strings.HasSuffix(fetcher.uris[0], ".json") {
		t.Fatalf("fetched = %v", fetcher.uris)
	}
	if len(records.saved) != 1 {
		t.Fatalf("saved = %d records, want 1", len(records.saved))
	}
	rec := records.saved[0]
	if rec.ID != h.Name() || rec.Owner != "alice" || rec.MediaKey != "talk.mp3" || len(rec.Segments) != 5 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestPollUntilFailed(t *testing.T) {
	client := &fakeClient{states: []JobState{{Status: models.StatusFailed, FailureReason: "unsupported media"}}}
	records := &fakeRecords{}
	o := newTestOrchestrator(client, &fakeFetcher{}, records)
	h, _ := o.StartJob(context.Background(), testSession, models.MediaRef{}, "en-US")

	_, err := o.PollUntilTerminal(context.Background(), h, nil)
	if !errors.Is(err, apperr.ErrJobFailed) {
		t.Fatalf("error = %v, want ErrJobFailed", err)
	}
	if !strings.Contains(err.Error(), "unsupported media") {
		t.Fatalf("error %q should carry the failure reason", err)
	}
	if len(records.saved) != 0 {
		t.Fatal("failed job must not write a record")
	}
	if client.Calls() != 1 {
		t.Fatalf("status calls = %d, want 1 (no retry)", client.Calls())
	}
}

func TestPollMalformedResult(t *testing.T) {
	client := &fakeClient{states: []JobState{{Status: models.StatusCompleted, OutputURI: "https://example.com/out.json"}}}
	o := newTestOrchestrator(client, &fakeFetcher{data: []byte(`{}`)}, &fakeRecords{})
	h, _ := o.StartJob(context.Background(), testSession, models.MediaRef{}, "en-US")

	if _, err := o.PollUntilTerminal(context.Background(), h, nil); !errors.Is(err, apperr.ErrMalformedResult) {
		t.Fatalf("error = %v, want ErrMalformedResult", err)
	}
}

func TestPollContinuesUntilCancelled(t *testing.T) {
	client := &fakeClient{}
	o := newTestOrchestrator(client, &fakeFetcher{}, &fakeRecords{})
	h, _ := o.StartJob(context.Background(), testSession, models.MediaRef{}, "en-US")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := o.PollUntilTerminal(ctx, h, func(models.TranscriptionJob) {
		if client.Calls() >= 25 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if client.Calls() < 25 {
		t.Fatalf("status calls = %d, want >= 25", client.Calls())
	}
	if h.Job().Status != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", h.Job().Status)
	}

	calls := client.Calls()
	time.Sleep(20 * time.Millisecond)
	if client.Calls() != calls {
		t.Fatal("status requests continued after cancellation")
	}
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.StatusSubmitted, models.StatusInProgress, true},
		{models.StatusSubmitted, models.StatusCompleted, false},
		{models.StatusInProgress, models.StatusCompleted, true},
		{models.StatusInProgress, models.StatusFailed, true},
		{models.StatusCompleted, models.StatusInProgress, false},
		{models.StatusFailed, models.StatusCancelled, false},
	}
	for _, tc := range cases {
		if got := isValidTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

type fakeTranscribe struct {
	transcribeserviceiface.TranscribeServiceAPI
	start *transcribeservice.StartTranscriptionJobInput
	job   *transcribeservice.TranscriptionJob
}

func (f *fakeTranscribe) StartTranscriptionJobWithContext(_ aws.Context, in *transcribeservice.StartTranscriptionJobInput, _ ...request.Option) (*transcribeservice.StartTranscriptionJobOutput, error) {
	f.start = in
	return &transcribeservice.StartTranscriptionJobOutput{}, nil
}

func (f *fakeTranscribe) GetTranscriptionJobWithContext(_ aws.Context, _ *transcribeservice.GetTranscriptionJobInput, _ ...request.Option) (*transcribeservice.GetTranscriptionJobOutput, error) {
	return &transcribeservice.GetTranscriptionJobOutput{TranscriptionJob: f.job}, nil
}

func TestAWSClient(t *testing.T) {
	fake := &fakeTranscribe{}
	c := NewAWSClient(fake)
	err := c.Submit(context.Background(), SubmitRequest{JobName: "transcription-1", LanguageCode: "en-US", MediaURI: "https://b.s3.us-east-1.amazonaws.com/a.mp3", OutputBucket: "b"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *fake.start.TranscriptionJobName != "transcription-1" || *fake.start.OutputBucketName != "b" || *fake.start.Media.MediaFileUri != "https://b.s3.us-east-1.amazonaws.com/a.mp3" {
		t.Fatalf("start input = %+v", fake.start)
	}

	cases := []struct {
		status string
		want   models.JobStatus
	}{
		{transcribeservice.TranscriptionJobStatusQueued, models.StatusInProgress},
		{transcribeservice.TranscriptionJobStatusInProgress, models.StatusInProgress},
		{transcribeservice.TranscriptionJobStatusCompleted, models.StatusCompleted},
		{transcribeservice.TranscriptionJobStatusFailed, models.StatusFailed},
	}
	for _, tc := range cases {
		fake.job = &transcribeservice.TranscriptionJob{
			TranscriptionJobStatus: aws.String(tc.status),
			Transcript:             &transcribeservice.Transcript{TranscriptFileUri: aws.String("https://out")},
		}
		state, err := c.Status(context.Background(), "transcription-1")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if state.Status != tc.want || state.OutputURI != "https://out" {
			t.Fatalf("%s: state = %+v", tc.status, state)
		}
	}
}

func TestDocumentFetcherUsesStoreForBucketURLs(t *testing.T) {
	store := storage.NewMemory("vocalytics-bucket", "us-east-1")
	if err := store.Put(context.Background(), "transcription-1.json", strings.NewReader(sampleResult), int64(len(sampleResult)), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	f := NewDocumentFetcher(store, nil)
	data, err := f.Fetch(context.Background(), "https://s3.us-east-1.amazonaws.com/vocalytics-bucket/transcription-1.json")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != sampleResult {
		t.Fatal("unexpected document")
	}
}

func TestDocumentFetcherHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/out.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, sampleResult)
	}))
	defer srv.Close()

	f := NewDocumentFetcher(storage.NewMemory("vocalytics-bucket", "us-east-1"), srv.Client())
	data, err := f.Fetch(context.Background(), srv.URL+"/out.json")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := ParseResult(data); err != nil {
		t.Fatalf("parse fetched: %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.json"); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := f.Fetch(context.Background(), ""); !errors.Is(err, apperr.ErrMalformedResult) {
		t.Fatalf("empty uri error = %v", err)
	}
}

func TestLocalClientRunsThroughPipeline(t *testing.T) {
	store := storage.NewMemory("vocalytics-bucket", "us-east-1")
	c := NewLocalClient(store, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	err := c.Submit(ctx, SubmitRequest{JobName: "transcription-1", MediaURI: store.URL("talk.mp3")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state, _ := c.Status(ctx, "transcription-1"); state.Status != models.StatusInProgress {
		t.Fatalf("state = %+v", state)
	}
	now = now.Add(time.Minute)
	state, _ := c.Status(ctx, "transcription-1")
	if state.Status != models.StatusCompleted {
		t.Fatalf("state = %+v", state)
	}

	data, err := NewDocumentFetcher(store, nil).Fetch(ctx, state.OutputURI)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	res, err := ParseResult(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(res.Text, "talk.mp3") {
		t.Fatalf("text = %q", res.Text)
	}
	var untimed int
	for _, s := range res.Segments {
		if !s.HasStart() {
			untimed++
		}
	}
	if untimed != 2 {
		t.Fatalf("punctuation items = %d, want 2", untimed)
	}

	if state, _ := c.Status(ctx, "unknown"); state.Status != models.StatusFailed {
		t.Fatalf("unknown job state = %+v", state)
	}
}
