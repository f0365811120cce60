package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

type fakeS3 struct {
	s3iface.S3API

	puts    []*s3.PutObjectInput
	bodies  map[string][]byte
	deletes []string
	getErr  error
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	data, _ := io.ReadAll(in.Body)
	if f.bodies == nil {
		f.bodies = make(map[string][]byte)
	}
	f.bodies[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.bodies[*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, *in.Key)
	delete(f.bodies, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestPublicURL(t *testing.T) {
	got := PublicURL("vocalytics-bucket", "us-east-1", "my talk.mp3")
	want := "https://vocalytics-bucket.s3.us-east-1.amazonaws.com/my%20talk.mp3"
	if got != want {
		t.Fatalf("PublicURL = %q, want %q", got, want)
	}
}

func TestKeyFromURL(t *testing.T) {
	cases := []struct {
		raw    string
		key    string
		wantOK bool
	}{
		{raw: "https://vocalytics-bucket.s3.us-east-1.amazonaws.com/transcription-1.json", key: "transcription-1.json", wantOK: true},
		{raw: "https://s3.us-east-1.amazonaws.com/vocalytics-bucket/transcription-1.json", key: "transcription-1.json", wantOK: true},
		{raw: "s3://vocalytics-bucket/out/transcription-1.json", key: "out/transcription-1.json", wantOK: true},
		{raw: "https://s3.us-east-1.amazonaws.com/other-bucket/transcription-1.json", wantOK: false},
		{raw: "https://example.com/transcription-1.json", wantOK: false},
		{raw: "https://vocalytics-bucket.s3.us-east-1.amazonaws.com/", wantOK: false},
		{raw: "::not a url", wantOK: false},
	}
	for _, tc := range cases {
		key, ok := KeyFromURL("vocalytics-bucket", tc.raw)
		if ok != tc.wantOK || key != tc.key {
			t.Fatalf("KeyFromURL(%q) = %q,%v want %q,%v", tc.raw, key, ok, tc.key, tc.wantOK)
		}
	}
}

func TestS3RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{}
	store := NewS3(fake, "vocalytics-bucket", "us-east-1")

	if err := store.Put(ctx, "talk.mp3", strings.NewReader("audio"), 5, "audio/mpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(fake.puts) != 1 || *fake.puts[0].Bucket != "vocalytics-bucket" || *fake.puts[0].ContentType != "audio/mpeg" {
		t.Fatalf("unexpected put input: %+v", fake.puts)
	}

	data, err := store.Get(ctx, "talk.mp3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "audio" {
		t.Fatalf("get = %q, want audio", data)
	}

	if err := store.Delete(ctx, "talk.mp3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "talk.mp3"); !errors.Is(err, ErrNoObject) {
		t.Fatalf("get after delete error = %v, want ErrNoObject", err)
	}
}

func TestS3GetMapsHTTPNotFound(t *testing.T) {
	fake := &fakeS3{getErr: awserr.NewRequestFailure(awserr.New("NotFound", "gone", nil), http.StatusNotFound, "req-1")}
	store := NewS3(fake, "b", "us-east-1")
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrNoObject) {
		t.Fatalf("error = %v, want ErrNoObject", err)
	}

	fake.getErr = awserr.New("AccessDenied", "no", nil)
	if _, err := store.Get(context.Background(), "k"); err == nil || errors.Is(err, ErrNoObject) {
		t.Fatalf("error = %v, want non-ErrNoObject failure", err)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("bucket", "eu-west-1")
	if err := m.Put(ctx, "a.mp4", strings.NewReader("video"), 5, "video/mp4"); err != nil {
		t.Fatalf("put: %v", err)
	}
	o, ok := m.Object("a.mp4")
	if !ok || o.ContentType != "video/mp4" {
		t.Fatalf("object = %+v,%v", o, ok)
	}
	if m.URL("a.mp4") != "https://bucket.s3.eu-west-1.amazonaws.com/a.mp4" {
		t.Fatalf("url = %q", m.URL("a.mp4"))
	}

	m.DeleteErr = errors.New("boom")
	if err := m.Delete(ctx, "a.mp4"); err == nil {
		t.Fatal("expected delete error")
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
}
