package server

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	qtypes "github.com/aws/aws-sdk-go-v2/service/qbusiness/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBatch struct {
	inputs []*batch.SubmitJobInput
}

func (f *fakeBatch) SubmitJob(ctx context.Context, in *batch.SubmitJobInput, _ ...func(*batch.Options)) (*batch.SubmitJobOutput, error) {
	f.inputs = append(f.inputs, in)
	return &batch.SubmitJobOutput{JobId: aws.String("batch-42"), JobName: in.JobName}, nil
}

type fakeApps struct {
	// appearsAfter is the number of list calls before the app shows up.
	appearsAfter int
	lists        int
}

func (f *fakeApps) ListApplications(ctx context.Context, in *qbusiness.ListApplicationsInput, _ ...func(*qbusiness.Options)) (*qbusiness.ListApplicationsOutput, error) {
	f.lists++
	apps := []qtypes.Application{{DisplayName: aws.String("other"), ApplicationId: aws.String("app-0")}}
	if f.lists > f.appearsAfter {
		apps = append(apps, qtypes.Application{DisplayName: aws.String("code-analysis"), ApplicationId: aws.String("app-7")})
	}
	return &qbusiness.ListApplicationsOutput{Applications: apps}, nil
}

func (f *fakeApps) ListIndices(ctx context.Context, in *qbusiness.ListIndicesInput, _ ...func(*qbusiness.Options)) (*qbusiness.ListIndicesOutput, error) {
	return &qbusiness.ListIndicesOutput{Indices: []qtypes.Index{
		{IndexId: aws.String("idx-a")},
		{IndexId: aws.String("idx-b")},
	}}, nil
}

func newTestBatchSubmitter(b BatchAPI, apps ApplicationLookupAPI) *BatchSubmitter {
	s := NewBatchSubmitter(b, apps, BatchSettings{
		JobQueue:      "agent-queue",
		JobDefinition: "agent-def",
		AppName:       "code-analysis",
		Bootstrap:     "aws s3 cp --recursive s3://bucket/agent/ .",
		Env:           map[string]string{"REPO_URL": "https://github.com/acme/shop.git", "Q_APP_INDEX": "stale"},
	}, nil)
	s.LookupInterval = 0
	s.LookupAttempts = 3
	s.Now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 5, 0, time.UTC) }
	return s
}

func TestBatchSubmitterSubmitsWithOverrides(t *testing.T) {
	b := &fakeBatch{}
	apps := &fakeApps{appearsAfter: 2}
	s := newTestBatchSubmitter(b, apps)

	receipt, err := s.Submit(context.Background(), JobSpec{Goal: "map the services", Env: map[string]string{"ENABLE_GRAPH": "true"}})
	require.NoError(t, err)

	assert.Equal(t, JobReceipt{ID: "batch-42", Name: "aws-batch-job-code-analysis2024-05-01-09-30-05", Backend: "batch"}, receipt)
	assert.Equal(t, 3, apps.lists)
	require.Len(t, b.inputs, 1)
	in := b.inputs[0]
	assert.Equal(t, "agent-queue", aws.ToString(in.JobQueue))
	assert.Equal(t, "agent-def", aws.ToString(in.JobDefinition))
	assert.Equal(t, []string{"sh", "-c", "aws s3 cp --recursive s3://bucket/agent/ . && codeanalysis run --goal 'map the services'"},
		in.ContainerOverrides.Command)

	env := map[string]string{}
	for _, kv := range in.ContainerOverrides.Environment {
		env[aws.ToString(kv.Name)] = aws.ToString(kv.Value)
	}
	assert.Equal(t, map[string]string{
		"AMAZON_Q_APP_ID": "app-7",
		"ENABLE_GRAPH":    "true",
		"Q_APP_INDEX":     "idx-a",
		"REPO_URL":        "https://github.com/acme/shop.git",
	}, env)
}

func TestBatchSubmitterGivesUpOnMissingApplication(t *testing.T) {
	b := &fakeBatch{}
	apps := &fakeApps{appearsAfter: 100}
	s := newTestBatchSubmitter(b, apps)

	_, err := s.Submit(context.Background(), JobSpec{Goal: "x"})
	assert.ErrorIs(t, err, ErrApplicationNotFound)
	assert.Equal(t, 3, apps.lists)
	assert.Empty(t, b.inputs)
}

func TestBatchSubmitterRequiresGoal(t *testing.T) {
	_, err := newTestBatchSubmitter(&fakeBatch{}, &fakeApps{}).Submit(context.Background(), JobSpec{})
	assert.ErrorIs(t, err, ErrGoalRequired)
}
