package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQBusiness struct {
	put     *qbusiness.BatchPutDocumentInput
	putOut  *qbusiness.BatchPutDocumentOutput
	chat    *qbusiness.ChatSyncInput
	started bool
	stopped bool
	chatErr error
}

func (f *fakeQBusiness) BatchPutDocument(ctx context.Context, in *qbusiness.BatchPutDocumentInput, optFns ...func(*qbusiness.Options)) (*qbusiness.BatchPutDocumentOutput, error) {
	f.put = in
	if f.putOut != nil {
		return f.putOut, nil
	}
	return &qbusiness.BatchPutDocumentOutput{}, nil
}

func (f *fakeQBusiness) ChatSync(ctx context.Context, in *qbusiness.ChatSyncInput, optFns ...func(*qbusiness.Options)) (*qbusiness.ChatSyncOutput, error) {
	f.chat = in
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &qbusiness.ChatSyncOutput{
		SystemMessage: aws.String("It is a CDK app."),
		SourceAttributions: []*types.SourceAttribution{
			nil,
			{Url: aws.String("https://example.com/repo/app.ts")},
			{Title: aws.String("README")},
		},
	}, nil
}

func (f *fakeQBusiness) StartDataSourceSyncJob(ctx context.Context, in *qbusiness.StartDataSourceSyncJobInput, optFns ...func(*qbusiness.Options)) (*qbusiness.StartDataSourceSyncJobOutput, error) {
	f.started = true
	return &qbusiness.StartDataSourceSyncJobOutput{ExecutionId: aws.String("exec-1")}, nil
}

func (f *fakeQBusiness) StopDataSourceSyncJob(ctx context.Context, in *qbusiness.StopDataSourceSyncJobInput, optFns ...func(*qbusiness.Options)) (*qbusiness.StopDataSourceSyncJobOutput, error) {
	f.stopped = true
	return &qbusiness.StopDataSourceSyncJobOutput{}, nil
}

func TestQBusinessPutDocument(t *testing.T) {
	client := &fakeQBusiness{}
	index := &QBusinessIndex{Client: client, ApplicationID: "app", IndexID: "idx", RoleArn: "arn:role"}

	err := index.PutDocument(context.Background(), Document{ID: "d1", Title: "main.go", Body: []byte("body"), SourceURI: "https://x/main.go"})
	require.NoError(t, err)
	require.NotNil(t, client.put)
	assert.Equal(t, "app", aws.ToString(client.put.ApplicationId))
	assert.Equal(t, "arn:role", aws.ToString(client.put.RoleArn))
	require.Len(t, client.put.Documents, 1)
	doc := client.put.Documents[0]
	assert.Equal(t, "d1", aws.ToString(doc.Id))
	assert.Equal(t, types.ContentType("PLAIN_TEXT"), doc.ContentType)
	blob, ok := doc.Content.(*types.DocumentContentMemberBlob)
	require.True(t, ok)
	assert.Equal(t, []byte("body"), blob.Value)
	url, ok := doc.Attributes[0].Value.(*types.DocumentAttributeValueMemberStringValue)
	require.True(t, ok)
	assert.Equal(t, "https://x/main.go", url.Value)
}

func TestQBusinessPutDocumentFailedDocument(t *testing.T) {
	client := &fakeQBusiness{putOut: &qbusiness.BatchPutDocumentOutput{
		FailedDocuments: []types.FailedDocument{{Id: aws.String("d1"), Error: &types.ErrorDetail{ErrorMessage: aws.String("too large")}}},
	}}
	index := &QBusinessIndex{Client: client, ApplicationID: "app", IndexID: "idx"}
	err := index.PutDocument(context.Background(), Document{ID: "d1"})
	assert.ErrorIs(t, err, ErrIndexFailed)
	assert.Contains(t, err.Error(), "too large")
}

func TestQBusinessChat(t *testing.T) {
	client := &fakeQBusiness{}
	index := &QBusinessIndex{Client: client, ApplicationID: "app", UserID: "user@example.com"}

	answer, err := index.Chat(context.Background(), "what is this?", []Attachment{{Name: "app.ts", Data: []byte("code")}})
	require.NoError(t, err)
	assert.Equal(t, "It is a CDK app.", answer.Text)
	assert.Equal(t, []string{"https://example.com/repo/app.ts", "README"}, answer.Sources)
	require.Len(t, client.chat.Attachments, 1)
	assert.Equal(t, "app.ts", aws.ToString(client.chat.Attachments[0].Name))
	assert.Equal(t, "user@example.com", aws.ToString(client.chat.UserId))

	client.chatErr = errors.New("throttled")
	_, err = index.Chat(context.Background(), "again", nil)
	assert.Error(t, err)
}

func TestQBusinessSync(t *testing.T) {
	client := &fakeQBusiness{}
	index := &QBusinessIndex{Client: client, ApplicationID: "app", IndexID: "idx"}
	_, err := index.StartSync(context.Background())
	assert.Error(t, err)

	index.DataSourceID = "ds"
	id, err := index.StartSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)
	require.NoError(t, index.StopSync(context.Background()))
	assert.True(t, client.started)
	assert.True(t, client.stopped)
}

func TestConnectorSyncRequiresSyncer(t *testing.T) {
	c := NewConnector(NewMemoryIndex(), nil, nil, nil, nil)
	_, err := c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncUnsupported)

	client := &fakeQBusiness{}
	c = NewConnector(&QBusinessIndex{Client: client, ApplicationID: "app", IndexID: "idx", DataSourceID: "ds"}, nil, nil, nil, nil)
	id, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)
}
