package transcribe

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
)

// transcribeAPI is the subset of the AWS Transcribe client used here.
type transcribeAPI interface {
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// AWSJobService runs jobs on Amazon Transcribe. Media must be an s3:// URI
// (or S3 HTTPS URL) in the service's region.
type AWSJobService struct {
	client transcribeAPI
}

// NewAWSJobService creates a Transcribe client using the default AWS
// credential chain.
func NewAWSJobService(ctx context.Context, region string) (*AWSJobService, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return &AWSJobService{client: transcribe.NewFromConfig(cfg)}, nil
}

func (s *AWSJobService) Name() string { return "aws-transcribe" }

func (s *AWSJobService) Submit(ctx context.Context, req JobRequest) error {
	in := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(req.Name),
		LanguageCode:         types.LanguageCode(req.LanguageCode),
		Media:                &types.Media{MediaFileUri: aws.String(req.MediaURI)},
	}
	if req.MediaFormat != "" {
		in.MediaFormat = types.MediaFormat(req.MediaFormat)
	}
	_, err := s.client.StartTranscriptionJob(ctx, in)
	return err
}

func (s *AWSJobService) Status(ctx context.Context, name string) (*Job, error) {
	out, err := s.client.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		return nil, err
	}
	if out.TranscriptionJob == nil {
		return nil, fmt.Errorf("job %s: empty response", name)
	}

	tj := out.TranscriptionJob
	job := &Job{
		Name:          name,
		Status:        mapAWSStatus(tj.TranscriptionJobStatus),
		FailureReason: aws.ToString(tj.FailureReason),
	}
	if tj.Transcript != nil {
		job.ResultURI = aws.ToString(tj.Transcript.TranscriptFileUri)
	}
	return job, nil
}

func mapAWSStatus(s types.TranscriptionJobStatus) Status {
	switch s {
	case types.TranscriptionJobStatusCompleted:
		return StatusCompleted
	case types.TranscriptionJobStatusFailed:
		return StatusFailed
	case types.TranscriptionJobStatusQueued, types.TranscriptionJobStatusInProgress:
		return StatusInProgress
	default:
		// Transcribe has no canceled state; an unknown status means the
		// job can no longer be relied on.
		return StatusCanceled
	}
}
