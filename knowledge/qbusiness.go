package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness/types"
)

// QBusinessAPI is the subset of the Q Business client used here.
type QBusinessAPI interface {
	BatchPutDocument(ctx context.Context, in *qbusiness.BatchPutDocumentInput, optFns ...func(*qbusiness.Options)) (*qbusiness.BatchPutDocumentOutput, error)
	ChatSync(ctx context.Context, in *qbusiness.ChatSyncInput, optFns ...func(*qbusiness.Options)) (*qbusiness.ChatSyncOutput, error)
	StartDataSourceSyncJob(ctx context.Context, in *qbusiness.StartDataSourceSyncJobInput, optFns ...func(*qbusiness.Options)) (*qbusiness.StartDataSourceSyncJobOutput, error)
	StopDataSourceSyncJob(ctx context.Context, in *qbusiness.StopDataSourceSyncJobInput, optFns ...func(*qbusiness.Options)) (*qbusiness.StopDataSourceSyncJobOutput, error)
}

// QBusinessIndex stores documents in an Amazon Q Business index and answers
// questions through its chat API.
type QBusinessIndex struct {
	Client        QBusinessAPI
	ApplicationID string
	IndexID       string
	RoleArn       string
	UserID        string
	DataSourceID  string
}

// ErrIndexFailed reports documents the index refused.
var ErrIndexFailed = errors.New("index rejected document")

// PutDocument uploads one plain-text document with a url attribute.
func (q *QBusinessIndex) PutDocument(ctx context.Context, doc Document) error {
	out, err := q.Client.BatchPutDocument(ctx, &qbusiness.BatchPutDocumentInput{
		ApplicationId: aws.String(q.ApplicationID),
		IndexId:       aws.String(q.IndexID),
		RoleArn:       optional(q.RoleArn),
		Documents: []types.Document{{
			Id:          aws.String(doc.ID),
			Title:       aws.String(doc.Title),
			ContentType: types.ContentType("PLAIN_TEXT"),
			Content:     &types.DocumentContentMemberBlob{Value: doc.Body},
			Attributes: []types.DocumentAttribute{{
				Name:  aws.String("url"),
				Value: &types.DocumentAttributeValueMemberStringValue{Value: doc.SourceURI},
			}},
		}},
	})
	if err != nil {
		return err
	}
	if out != nil && len(out.FailedDocuments) > 0 {
		failed := out.FailedDocuments[0]
		msg := "unknown error"
		if failed.Error != nil && failed.Error.ErrorMessage != nil {
			msg = *failed.Error.ErrorMessage
		}
		return fmt.Errorf("%w %s: %s", ErrIndexFailed, aws.ToString(failed.Id), msg)
	}
	return nil
}

// Chat sends a synchronous chat message, optionally with attachments.
func (q *QBusinessIndex) Chat(ctx context.Context, message string, attachments []Attachment) (ChatAnswer, error) {
	in := &qbusiness.ChatSyncInput{
		ApplicationId: aws.String(q.ApplicationID),
		UserId:        optional(q.UserID),
		UserMessage:   aws.String(message),
	}
	for _, a := range attachments {
		in.Attachments = append(in.Attachments, types.AttachmentInput{
			Name: aws.String(a.Name),
			Data: a.Data,
		})
	}
	out, err := q.Client.ChatSync(ctx, in)
	if err != nil {
		return ChatAnswer{}, err
	}
	answer := ChatAnswer{Text: aws.ToString(out.SystemMessage)}
	for _, src := range out.SourceAttributions {
		if src == nil {
			continue
		}
		if url := aws.ToString(src.Url); url != "" {
			answer.Sources = append(answer.Sources, url)
		} else if title := aws.ToString(src.Title); title != "" {
			answer.Sources = append(answer.Sources, title)
		}
	}
	return answer, nil
}

// StartSync starts a data source sync job and returns its execution id.
func (q *QBusinessIndex) StartSync(ctx context.Context) (string, error) {
	if q.DataSourceID == "" {
		return "", errors.New("data source id required for sync")
	}
	out, err := q.Client.StartDataSourceSyncJob(ctx, &qbusiness.StartDataSourceSyncJobInput{
		ApplicationId: aws.String(q.ApplicationID),
		IndexId:       aws.String(q.IndexID),
		DataSourceId:  aws.String(q.DataSourceID),
	})
	if err != nil {
		return "", fmt.Errorf("start sync: %w", err)
	}
	return aws.ToString(out.ExecutionId), nil
}

// StopSync stops the running sync job of the data source.
func (q *QBusinessIndex) StopSync(ctx context.Context) error {
	if q.DataSourceID == "" {
		return errors.New("data source id required for sync")
	}
	_, err := q.Client.StopDataSourceSyncJob(ctx, &qbusiness.StopDataSourceSyncJobInput{
		ApplicationId: aws.String(q.ApplicationID),
		IndexId:       aws.String(q.IndexID),
		DataSourceId:  aws.String(q.DataSourceID),
	})
	if err != nil {
		return fmt.Errorf("stop sync: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
