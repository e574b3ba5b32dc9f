// Package lark delivers notifications through Lark IM and resolves managers from the Lark
// contact directory.
package lark

import (
	"context"
	"fmt"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Config holds Lark client configuration
type Config struct {
	AppID      string
	AppSecret  string
	BaseURL    string
	APITimeout time.Duration
	// UserIDType is how recipients are addressed: open_id, user_id or union_id
	UserIDType string
}

// SDKClient wraps the Lark SDK client
type SDKClient struct {
	client     *lark.Client
	userIDType string
	logger     *zap.Logger
}

// NewSDKClient creates a new Lark SDK client
func NewSDKClient(cfg Config, logger *zap.Logger) *SDKClient {
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}
	if cfg.APITimeout > 0 {
		opts = append(opts, lark.WithReqTimeout(cfg.APITimeout))
	}

	userIDType := cfg.UserIDType
	if userIDType == "" {
		userIDType = "open_id"
	}
	return &SDKClient{
		client:     lark.NewClient(cfg.AppID, cfg.AppSecret, opts...),
		userIDType: userIDType,
		logger:     logger,
	}
}

// UserIDType returns how users are addressed
func (c *SDKClient) UserIDType() string {
	return c.userIDType
}

// SendMessage creates one IM message and returns its id
func (c *SDKClient) SendMessage(ctx context.Context, receiveID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(c.userIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	return messageID, nil
}

// GetLeader returns the leader (manager) id of a user, or "" when none is set
func (c *SDKClient) GetLeader(ctx context.Context, userID string) (string, error) {
	req := larkcontact.NewGetUserReqBuilder().
		UserId(userID).
		UserIdType(c.userIDType).
		Build()

	resp, err := c.client.Contact.User.Get(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.User == nil || resp.Data.User.LeaderUserId == nil {
		return "", nil
	}
	return *resp.Data.User.LeaderUserId, nil
}
