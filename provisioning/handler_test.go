package provisioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQ struct {
	statuses     []types.IndexStatus
	createIdxErr error
	webErr       error

	calls      []string
	deleted    []string
	appInput   *qbusiness.CreateApplicationInput
	indexInput *qbusiness.CreateIndexInput
	retriever  *qbusiness.CreateRetrieverInput
	polls      int
}

func (f *fakeQ) CreateApplication(ctx context.Context, in *qbusiness.CreateApplicationInput, _ ...func(*qbusiness.Options)) (*qbusiness.CreateApplicationOutput, error) {
	f.calls = append(f.calls, "CreateApplication")
	f.appInput = in
	return &qbusiness.CreateApplicationOutput{ApplicationId: aws.String("app-1")}, nil
}

func (f *fakeQ) DeleteApplication(ctx context.Context, in *qbusiness.DeleteApplicationInput, _ ...func(*qbusiness.Options)) (*qbusiness.DeleteApplicationOutput, error) {
	f.calls = append(f.calls, "DeleteApplication")
	f.deleted = append(f.deleted, aws.ToString(in.ApplicationId))
	return &qbusiness.DeleteApplicationOutput{}, nil
}

func (f *fakeQ) CreateIndex(ctx context.Context, in *qbusiness.CreateIndexInput, _ ...func(*qbusiness.Options)) (*qbusiness.CreateIndexOutput, error) {
	f.calls = append(f.calls, "CreateIndex")
	f.indexInput = in
	if f.createIdxErr != nil {
		return nil, f.createIdxErr
	}
	return &qbusiness.CreateIndexOutput{IndexId: aws.String("idx-1")}, nil
}

func (f *fakeQ) GetIndex(ctx context.Context, in *qbusiness.GetIndexInput, _ ...func(*qbusiness.Options)) (*qbusiness.GetIndexOutput, error) {
	f.polls++
	status := types.IndexStatusActive
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	out := &qbusiness.GetIndexOutput{Status: status}
	if status == types.IndexStatusFailed {
		out.Error = &types.ErrorDetail{ErrorMessage: aws.String("quota exceeded")}
	}
	return out, nil
}

func (f *fakeQ) CreateRetriever(ctx context.Context, in *qbusiness.CreateRetrieverInput, _ ...func(*qbusiness.Options)) (*qbusiness.CreateRetrieverOutput, error) {
	f.calls = append(f.calls, "CreateRetriever")
	f.retriever = in
	return &qbusiness.CreateRetrieverOutput{RetrieverId: aws.String("ret-1")}, nil
}

func (f *fakeQ) CreateWebExperience(ctx context.Context, in *qbusiness.CreateWebExperienceInput, _ ...func(*qbusiness.Options)) (*qbusiness.CreateWebExperienceOutput, error) {
	f.calls = append(f.calls, "CreateWebExperience")
	if f.webErr != nil {
		return nil, f.webErr
	}
	return &qbusiness.CreateWebExperienceOutput{WebExperienceId: aws.String("web-1")}, nil
}

func newTestHandler(client QBusinessAPI) *Handler {
	h := NewHandler(client, Settings{
		AppName:              "code-analysis",
		AppRoleARN:           "arn:aws:iam::1:role/q",
		WebExperienceRoleARN: "arn:aws:iam::1:role/web",
		IdentityCenterARN:    "arn:aws:sso:::instance/ssoins-1",
	}, nil)
	h.PollInterval = 0
	h.PollAttempts = 5
	h.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestHandleCreateBuildsEveryResource(t *testing.T) {
	q := &fakeQ{statuses: []types.IndexStatus{types.IndexStatusCreating, types.IndexStatusCreating, types.IndexStatusActive}}
	h := newTestHandler(q)

	resp, err := h.Handle(context.Background(), Event{RequestType: RequestCreate})
	require.NoError(t, err)

	assert.Equal(t, "app-1", resp.PhysicalResourceID)
	assert.Equal(t, map[string]string{
		"AmazonQAppId":           "app-1",
		"AmazonQIndexId":         "idx-1",
		"AmazonQRetrieverId":     "ret-1",
		"AmazonQWebExperienceId": "web-1",
	}, resp.Data)
	assert.Equal(t, []string{"CreateApplication", "CreateIndex", "CreateRetriever", "CreateWebExperience"}, q.calls)
	assert.Equal(t, 3, q.polls)

	assert.Equal(t, types.AttachmentsControlModeEnabled, q.appInput.AttachmentsConfiguration.AttachmentsControlMode)
	assert.Equal(t, types.IndexTypeStarter, q.indexInput.Type)
	assert.Equal(t, int32(1), aws.ToInt32(q.indexInput.CapacityConfiguration.Units))
	assert.Equal(t, "code-analysis-2024-05-01", aws.ToString(q.indexInput.Description))
	native, ok := q.retriever.Configuration.(*types.RetrieverConfigurationMemberNativeIndexConfiguration)
	require.True(t, ok)
	assert.Equal(t, "idx-1", aws.ToString(native.Value.IndexId))
}

func TestHandleCreateDeletesAppWhenIndexFails(t *testing.T) {
	q := &fakeQ{createIdxErr: errors.New("access denied")}
	h := newTestHandler(q)

	_, err := h.Handle(context.Background(), Event{RequestType: RequestCreate})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, []string{"app-1"}, q.deleted)
}

func TestHandleCreateStopsOnFailedIndex(t *testing.T) {
	q := &fakeQ{statuses: []types.IndexStatus{types.IndexStatusCreating, types.IndexStatusFailed}}
	h := newTestHandler(q)

	_, err := h.Handle(context.Background(), Event{RequestType: RequestCreate})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexFailed)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, 2, q.polls)
	assert.Equal(t, []string{"app-1"}, q.deleted)
}

func TestHandleCreateBoundsIndexPolling(t *testing.T) {
	statuses := make([]types.IndexStatus, 10)
	for i := range statuses {
		statuses[i] = types.IndexStatusCreating
	}
	q := &fakeQ{statuses: statuses}
	h := newTestHandler(q)

	_, err := h.Handle(context.Background(), Event{RequestType: RequestCreate})
	assert.ErrorIs(t, err, ErrIndexNotReady)
	assert.Equal(t, 5, q.polls)
	assert.Equal(t, []string{"app-1"}, q.deleted)
}

func TestHandleCreateDeletesAppWhenWebExperienceFails(t *testing.T) {
	q := &fakeQ{webErr: errors.New("role missing")}
	h := newTestHandler(q)

	_, err := h.Handle(context.Background(), Event{RequestType: RequestCreate})
	require.Error(t, err)
	assert.Equal(t, "DeleteApplication", q.calls[len(q.calls)-1])
}

func TestHandleUpdateAndDelete(t *testing.T) {
	q := &fakeQ{}
	h := newTestHandler(q)

	resp, err := h.Handle(context.Background(), Event{RequestType: RequestUpdate, PhysicalResourceID: "app-9"})
	require.NoError(t, err)
	assert.Equal(t, "app-9", resp.PhysicalResourceID)
	assert.Empty(t, q.calls)

	resp, err = h.Handle(context.Background(), Event{RequestType: RequestDelete, PhysicalResourceID: "app-9"})
	require.NoError(t, err)
	assert.Equal(t, "app-9", resp.PhysicalResourceID)
	assert.Equal(t, []string{"app-9"}, q.deleted)
}

func TestHandleRejectsUnknownRequest(t *testing.T) {
	_, err := newTestHandler(&fakeQ{}).Handle(context.Background(), Event{RequestType: "Replace"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request type")
}
