package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	// BatchJobPrefix starts every submitted job name.
	BatchJobPrefix = "aws-batch-job-code-analysis"

	DefaultLookupAttempts = 15
	DefaultLookupInterval = 10 * time.Second
)

// BatchAPI is the subset of the AWS Batch client used here.
type BatchAPI interface {
	SubmitJob(ctx context.Context, in *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
}

// ApplicationLookupAPI finds the Q Business application and its index.
type ApplicationLookupAPI interface {
	ListApplications(ctx context.Context, in *qbusiness.ListApplicationsInput, optFns ...func(*qbusiness.Options)) (*qbusiness.ListApplicationsOutput, error)
	ListIndices(ctx context.Context, in *qbusiness.ListIndicesInput, optFns ...func(*qbusiness.Options)) (*qbusiness.ListIndicesOutput, error)
}

var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrNoIndex             = errors.New("application has no index")
)

// BatchSettings names the queue, definition and application for jobs.
type BatchSettings struct {
	JobQueue      string
	JobDefinition string
	AppName       string
	Bootstrap     string
	// Env is passed to every job; the resolved application and index ids
	// are added to it.
	Env map[string]string
}

// BatchSubmitter runs jobs on AWS Batch.
type BatchSubmitter struct {
	Batch          BatchAPI
	Apps           ApplicationLookupAPI
	Settings       BatchSettings
	LookupAttempts int
	LookupInterval time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewBatchSubmitter wires the clients with the default lookup bounds.
func NewBatchSubmitter(batchClient BatchAPI, apps ApplicationLookupAPI, settings BatchSettings, logger *zap.Logger) *BatchSubmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchSubmitter{
		Batch:          batchClient,
		Apps:           apps,
		Settings:       settings,
		LookupAttempts: DefaultLookupAttempts,
		LookupInterval: DefaultLookupInterval,
		Logger:         logger.With(zap.String("component", "batch_submitter")),
		Now:            time.Now,
	}
}

// Submit resolves the application, then submits the job.
func (s *BatchSubmitter) Submit(ctx context.Context, spec JobSpec) (JobReceipt, error) {
	if spec.Goal == "" {
		return JobReceipt{}, ErrGoalRequired
	}
	appID, err := s.lookupApplication(ctx)
	if err != nil {
		return JobReceipt{}, err
	}
	indexID, err := s.firstIndex(ctx, appID)
	if err != nil {
		return JobReceipt{}, err
	}
	env := mergeEnv(s.Settings.Env, map[string]string{
		"AMAZON_Q_APP_ID": appID,
		"Q_APP_INDEX":     indexID,
	})
	env = mergeEnv(env, spec.Env)

	overrides := &batchtypes.ContainerOverrides{Command: CommandLine(s.Settings.Bootstrap, spec.Goal)}
	for _, k := range sortedKeys(env) {
		overrides.Environment = append(overrides.Environment, batchtypes.KeyValuePair{
			Name:  aws.String(k),
			Value: aws.String(env[k]),
		})
	}
	name := BatchJobPrefix + s.Now().Format("2006-01-02-15-04-05")
	s.Logger.Info("submitting job",
		zap.String("job_name", name),
		zap.String("queue", s.Settings.JobQueue),
		zap.String("definition", s.Settings.JobDefinition),
		zap.String("goal", spec.Goal))
	out, err := s.Batch.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:            aws.String(name),
		JobQueue:           aws.String(s.Settings.JobQueue),
		JobDefinition:      aws.String(s.Settings.JobDefinition),
		ContainerOverrides: overrides,
	})
	if err != nil {
		return JobReceipt{}, fmt.Errorf("submit job %s: %w", name, err)
	}
	return JobReceipt{ID: aws.ToString(out.JobId), Name: aws.ToString(out.JobName), Backend: "batch"}, nil
}

// lookupApplication finds the application by display name, waiting for it
// to appear when it is still being provisioned.
func (s *BatchSubmitter) lookupApplication(ctx context.Context) (string, error) {
	attempts := s.LookupAttempts
	if attempts <= 0 {
		attempts = DefaultLookupAttempts
	}
	return backoff.Retry(ctx, func() (string, error) {
		var token *string
		for {
			out, err := s.Apps.ListApplications(ctx, &qbusiness.ListApplicationsInput{
				MaxResults: aws.Int32(100),
				NextToken:  token,
			})
			if err != nil {
				return "", fmt.Errorf("list applications: %w", err)
			}
			for _, app := range out.Applications {
				if aws.ToString(app.DisplayName) == s.Settings.AppName {
					return aws.ToString(app.ApplicationId), nil
				}
			}
			if out.NextToken == nil {
				break
			}
			token = out.NextToken
		}
		s.Logger.Info("application not found yet", zap.String("app_name", s.Settings.AppName))
		return "", fmt.Errorf("%w: %s", ErrApplicationNotFound, s.Settings.AppName)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.LookupInterval)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

func (s *BatchSubmitter) firstIndex(ctx context.Context, appID string) (string, error) {
	out, err := s.Apps.ListIndices(ctx, &qbusiness.ListIndicesInput{ApplicationId: aws.String(appID)})
	if err != nil {
		return "", fmt.Errorf("list indices of %s: %w", appID, err)
	}
	if len(out.Indices) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoIndex, appID)
	}
	return aws.ToString(out.Indices[0].IndexId), nil
}
