package transcribe

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/transcribeservice"
	"github.com/aws/aws-sdk-go/service/transcribeservice/transcribeserviceiface"

	"vocalytics/internal/apperr"
	"vocalytics/internal/awsutil"
	"vocalytics/internal/models"
)

// SubmitRequest describes a new transcription job.
type SubmitRequest struct {
	JobName      string
	LanguageCode string
	MediaURI     string
	OutputBucket string
}

// JobState is what the service reports for a job.
type JobState struct {
	Status        models.JobStatus
	OutputURI     string
	FailureReason string
}

// Client is the transcription service contract the orchestrator needs.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) error
	Status(ctx context.Context, jobName string) (JobState, error)
}

// AWSClient implements Client on Amazon Transcribe.
type AWSClient struct {
	svc transcribeserviceiface.TranscribeServiceAPI
}

func NewAWSClient(svc transcribeserviceiface.TranscribeServiceAPI) *AWSClient {
	return &AWSClient{svc: svc}
}

func (c *AWSClient) Submit(ctx context.Context, req SubmitRequest) error {
	_, err := c.svc.StartTranscriptionJobWithContext(ctx, &transcribeservice.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(req.JobName),
		LanguageCode:         aws.String(req.LanguageCode),
		Media: &transcribeservice.Media{
			MediaFileUri: aws.String(req.MediaURI),
		},
		OutputBucketName: aws.String(req.OutputBucket),
	})
	if err != nil {
		return classify("start transcription job", err)
	}
	return nil
}

func (c *AWSClient) Status(ctx context.Context, jobName string) (JobState, error) {
	out, err := c.svc.GetTranscriptionJobWithContext(ctx, &transcribeservice.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	})
	if err != nil {
		return JobState{}, classify("get transcription job", err)
	}
	job := out.TranscriptionJob
	if job == nil {
		return JobState{Status: models.StatusInProgress}, nil
	}

	state := JobState{FailureReason: aws.StringValue(job.FailureReason)}
	switch aws.StringValue(job.TranscriptionJobStatus) {
	case transcribeservice.TranscriptionJobStatusCompleted:
		state.Status = models.StatusCompleted
	case transcribeservice.TranscriptionJobStatusFailed:
		state.Status = models.StatusFailed
	default:
		state.Status = models.StatusInProgress
	}
	if job.Transcript != nil {
		state.OutputURI = aws.StringValue(job.Transcript.TranscriptFileUri)
	}
	return state, nil
}

func classify(op string, err error) error {
	if awsutil.IsNetworkError(err) {
		return apperr.Wrap(apperr.KindNetwork, "Network error. Please check your connection.", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
