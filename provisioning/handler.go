// Package provisioning creates and tears down the Amazon Q Business
// application backing the knowledge index: the application itself, a
// starter index, its native retriever and a web experience.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness/types"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Request types understood by Handle.
const (
	RequestCreate = "Create"
	RequestUpdate = "Update"
	RequestDelete = "Delete"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollAttempts = 60
)

// QBusinessAPI is the subset of the Q Business client provisioning uses.
type QBusinessAPI interface {
	CreateApplication(ctx context.Context, in *qbusiness.CreateApplicationInput, optFns ...func(*qbusiness.Options)) (*qbusiness.CreateApplicationOutput, error)
	DeleteApplication(ctx context.Context, in *qbusiness.DeleteApplicationInput, optFns ...func(*qbusiness.Options)) (*qbusiness.DeleteApplicationOutput, error)
	CreateIndex(ctx context.Context, in *qbusiness.CreateIndexInput, optFns ...func(*qbusiness.Options)) (*qbusiness.CreateIndexOutput, error)
	GetIndex(ctx context.Context, in *qbusiness.GetIndexInput, optFns ...func(*qbusiness.Options)) (*qbusiness.GetIndexOutput, error)
	CreateRetriever(ctx context.Context, in *qbusiness.CreateRetrieverInput, optFns ...func(*qbusiness.Options)) (*qbusiness.CreateRetrieverOutput, error)
	CreateWebExperience(ctx context.Context, in *qbusiness.CreateWebExperienceInput, optFns ...func(*qbusiness.Options)) (*qbusiness.CreateWebExperienceOutput, error)
}

// Event is a custom-resource lifecycle request.
type Event struct {
	RequestType        string         `json:"RequestType"`
	PhysicalResourceID string         `json:"PhysicalResourceId,omitempty"`
	ResourceProperties map[string]any `json:"ResourceProperties,omitempty"`
}

// Response carries the application id and, on create, the ids of every
// resource made.
type Response struct {
	PhysicalResourceID string            `json:"PhysicalResourceId"`
	Data               map[string]string `json:"Data,omitempty"`
}

// Settings names the application and the roles it runs under.
type Settings struct {
	AppName              string
	AppRoleARN           string
	WebExperienceRoleARN string
	IdentityCenterARN    string
}

var (
	// ErrIndexFailed reports an index that ended in FAILED.
	ErrIndexFailed = errors.New("index creation failed")
	// ErrIndexNotReady reports an index still creating after every poll.
	ErrIndexNotReady = errors.New("index not active")
)

// Handler applies lifecycle events to the Q Business application.
type Handler struct {
	Client       QBusinessAPI
	Settings     Settings
	PollInterval time.Duration
	PollAttempts int
	Logger       *zap.Logger
	Now          func() time.Time
}

// NewHandler wires a client with the default polling bounds.
func NewHandler(client QBusinessAPI, settings Settings, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Client:       client,
		Settings:     settings,
		PollInterval: DefaultPollInterval,
		PollAttempts: DefaultPollAttempts,
		Logger:       logger.With(zap.String("component", "provisioning"), zap.String("app_name", settings.AppName)),
		Now:          time.Now,
	}
}

// Handle dispatches on the request type.
func (h *Handler) Handle(ctx context.Context, event Event) (Response, error) {
	logger := h.Logger.With(zap.String("request_type", event.RequestType), zap.String("app_id", event.PhysicalResourceID))
	switch event.RequestType {
	case RequestCreate:
		return h.create(ctx, event)
	case RequestUpdate:
		logger.Info("update is a passthrough", zap.Any("props", event.ResourceProperties))
		return Response{PhysicalResourceID: event.PhysicalResourceID}, nil
	case RequestDelete:
		if err := h.deleteApp(ctx, event.PhysicalResourceID); err != nil {
			return Response{}, err
		}
		return Response{PhysicalResourceID: event.PhysicalResourceID}, nil
	default:
		return Response{}, fmt.Errorf("invalid request type: %q", event.RequestType)
	}
}

func (h *Handler) create(ctx context.Context, event Event) (Response, error) {
	h.Logger.Info("creating application", zap.Any("props", event.ResourceProperties))
	appID, err := h.createApp(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("error creating Q App: %w", err)
	}
	logger := h.Logger.With(zap.String("app_id", appID))

	data, err := h.createResources(ctx, appID)
	if err != nil {
		logger.Error("creating resources failed, deleting application", zap.Error(err))
		// the caller's context may be what failed; cleanup gets its own
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if delErr := h.deleteApp(cleanupCtx, appID); delErr != nil {
			logger.Error("cleanup failed", zap.Error(delErr))
			err = errors.Join(err, delErr)
		}
		return Response{}, fmt.Errorf("error creating Q App: %w", err)
	}
	data["AmazonQAppId"] = appID
	logger.Info("application ready", zap.Any("data", data))
	return Response{PhysicalResourceID: appID, Data: data}, nil
}

func (h *Handler) createResources(ctx context.Context, appID string) (map[string]string, error) {
	indexID, err := h.createIndex(ctx, appID)
	if err != nil {
		return nil, err
	}
	retrieverID, err := h.createRetriever(ctx, appID, indexID)
	if err != nil {
		return nil, err
	}
	webID, err := h.createWebExperience(ctx, appID)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"AmazonQIndexId":         indexID,
		"AmazonQRetrieverId":     retrieverID,
		"AmazonQWebExperienceId": webID,
	}, nil
}

func (h *Handler) createApp(ctx context.Context) (string, error) {
	s := h.Settings
	out, err := h.Client.CreateApplication(ctx, &qbusiness.CreateApplicationInput{
		DisplayName: aws.String(s.AppName),
		Description: aws.String(fmt.Sprintf("%s created by codeanalysis on %s", s.AppName, h.Now().Format("2006-01-02 15:04:05"))),
		RoleArn:     optional(s.AppRoleARN),
		AttachmentsConfiguration: &types.AttachmentsConfiguration{
			AttachmentsControlMode: types.AttachmentsControlModeEnabled,
		},
		IdentityCenterInstanceArn: optional(s.IdentityCenterARN),
	})
	if err != nil {
		return "", fmt.Errorf("create application: %w", err)
	}
	return aws.ToString(out.ApplicationId), nil
}

func (h *Handler) createIndex(ctx context.Context, appID string) (string, error) {
	s := h.Settings
	out, err := h.Client.CreateIndex(ctx, &qbusiness.CreateIndexInput{
		ApplicationId:         aws.String(appID),
		DisplayName:           aws.String(s.AppName),
		Description:           aws.String(fmt.Sprintf("%s-%s", s.AppName, h.Now().Format("2006-01-02"))),
		Type:                  types.IndexTypeStarter,
		CapacityConfiguration: &types.IndexCapacityConfiguration{Units: aws.Int32(1)},
	})
	if err != nil {
		return "", fmt.Errorf("create index: %w", err)
	}
	indexID := aws.ToString(out.IndexId)
	if err := h.waitForIndex(ctx, appID, indexID); err != nil {
		return "", err
	}
	return indexID, nil
}

// waitForIndex polls until the index leaves CREATING. FAILED stops the
// polling at once.
func (h *Handler) waitForIndex(ctx context.Context, appID, indexID string) error {
	attempts := h.PollAttempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		out, err := h.Client.GetIndex(ctx, &qbusiness.GetIndexInput{
			ApplicationId: aws.String(appID),
			IndexId:       aws.String(indexID),
		})
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("get index %s: %w", indexID, err))
		}
		h.Logger.Info("index status", zap.String("index_id", indexID), zap.String("status", string(out.Status)))
		switch out.Status {
		case types.IndexStatusCreating:
			return struct{}{}, ErrIndexNotReady
		case types.IndexStatusFailed:
			msg := "unknown error"
			if out.Error != nil && out.Error.ErrorMessage != nil {
				msg = *out.Error.ErrorMessage
			}
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrIndexFailed, msg))
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(h.PollInterval)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}

func (h *Handler) createRetriever(ctx context.Context, appID, indexID string) (string, error) {
	out, err := h.Client.CreateRetriever(ctx, &qbusiness.CreateRetrieverInput{
		ApplicationId: aws.String(appID),
		DisplayName:   aws.String(h.Settings.AppName),
		Type:          types.RetrieverTypeNativeIndex,
		RoleArn:       optional(h.Settings.AppRoleARN),
		Configuration: &types.RetrieverConfigurationMemberNativeIndexConfiguration{
			Value: types.NativeIndexConfiguration{IndexId: aws.String(indexID)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create retriever: %w", err)
	}
	return aws.ToString(out.RetrieverId), nil
}

func (h *Handler) createWebExperience(ctx context.Context, appID string) (string, error) {
	name := h.Settings.AppName
	out, err := h.Client.CreateWebExperience(ctx, &qbusiness.CreateWebExperienceInput{
		ApplicationId:  aws.String(appID),
		Title:          aws.String(name),
		RoleArn:        optional(h.Settings.WebExperienceRoleARN),
		WelcomeMessage: aws.String(fmt.Sprintf("Welcome to Amazon Q %s!", name)),
	})
	if err != nil {
		return "", fmt.Errorf("create web experience: %w", err)
	}
	return aws.ToString(out.WebExperienceId), nil
}

func (h *Handler) deleteApp(ctx context.Context, appID string) error {
	if appID == "" {
		return errors.New("application id required")
	}
	h.Logger.Info("deleting application", zap.String("app_id", appID))
	if _, err := h.Client.DeleteApplication(ctx, &qbusiness.DeleteApplicationInput{ApplicationId: aws.String(appID)}); err != nil {
		return fmt.Errorf("delete application %s: %w", appID, err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
