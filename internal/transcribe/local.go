package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"vocalytics/internal/models"
	"vocalytics/internal/storage"
)

const localWordSeconds = 0.6

// LocalClient stands in for the transcription service on the memory
// backend. Each job completes after delay with a short generated transcript
// written to the object store, so the rest of the pipeline runs unchanged.
type LocalClient struct {
	store storage.Store
	delay time.Duration
	now   func() time.Time

	mu   sync.Mutex
	jobs map[string]localJob
}

type localJob struct {
	readyAt time.Time
	output  string
}

func NewLocalClient(store storage.Store, delay time.Duration) *LocalClient {
	return &LocalClient{
		store: store,
		delay: delay,
		now:   time.Now,
		jobs:  make(map[string]localJob),
	}
}

func (c *LocalClient) Submit(ctx context.Context, req SubmitRequest) error {
	if req.MediaURI == "" {
		return fmt.Errorf("start transcription job %s: media uri is required", req.JobName)
	}
	name := path.Base(req.MediaURI)
	text := "This is a local transcription of " + name + ". Configure the aws backend for real speech recognition."
	data, err := json.Marshal(localDocument(req.JobName, text))
	if err != nil {
		return fmt.Errorf("encode local result: %w", err)
	}
	key := req.JobName + ".json"
	if err := c.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("store local result: %w", err)
	}

	c.mu.Lock()
	c.jobs[req.JobName] = localJob{readyAt: c.now().Add(c.delay), output: c.store.URL(key)}
	c.mu.Unlock()
	return nil
}

func (c *LocalClient) Status(_ context.Context, jobName string) (JobState, error) {
	c.mu.Lock()
	job, ok := c.jobs[jobName]
	c.mu.Unlock()
	if !ok {
		return JobState{Status: models.StatusFailed, FailureReason: "unknown job " + jobName}, nil
	}
	if c.now().Before(job.readyAt) {
		return JobState{Status: models.StatusInProgress}, nil
	}
	return JobState{Status: models.StatusCompleted, OutputURI: job.output}, nil
}

// localDocument builds a result document for text, one item per word and a
// separate untimed item for trailing punctuation.
func localDocument(jobName, text string) Document {
	doc := Document{
		JobName: jobName,
		Status:  "COMPLETED",
		Results: Results{Transcripts: []Transcript{{Transcript: text}}},
	}
	for i, word := range strings.Fields(text) {
		punct := ""
		if n := len(word); n > 1 && strings.ContainsAny(word[n-1:], ".,!?") {
			word, punct = word[:n-1], word[n-1:]
		}
		start := float64(i) * localWordSeconds
		doc.Results.Items = append(doc.Results.Items, Item{
			StartTime:    strconv.FormatFloat(start, 'f', 2, 64),
			EndTime:      strconv.FormatFloat(start+localWordSeconds, 'f', 2, 64),
			Type:         "pronunciation",
			Alternatives: []Alternative{{Confidence: "1.0", Content: word}},
		})
		if punct != "" {
			doc.Results.Items = append(doc.Results.Items, Item{
				Type:         "punctuation",
				Alternatives: []Alternative{{Confidence: "0.0", Content: punct}},
			})
		}
	}
	return doc
}
