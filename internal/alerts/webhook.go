package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookConfig Webhook 通知配置
type WebhookConfig struct {
	// Endpoints 渠道到地址的映射；email/sms 指向中继服务
	Endpoints     map[Channel]string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

// webhookPayload 发送给 Webhook 的请求体
type webhookPayload struct {
	Channel Channel `json:"channel"`
	Message
}

// WebhookNotifier 通过 HTTP POST 投递通知
type WebhookNotifier struct {
	httpClient *resty.Client
	endpoints  map[Channel]string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 Webhook 通知
func NewWebhookNotifier(cfg WebhookConfig, logger *zap.Logger) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = 1 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	endpoints := make(map[Channel]string, len(cfg.Endpoints))
	for ch, url := range cfg.Endpoints {
		if url != "" {
			endpoints[ch] = url
		}
	}

	return &WebhookNotifier{
		httpClient: client,
		endpoints:  endpoints,
		logger:     logger,
	}
}

// Channels 已配置地址的渠道
func (n *WebhookNotifier) Channels() []Channel {
	out := make([]Channel, 0, len(n.endpoints))
	for _, ch := range []Channel{ChannelWebhook, ChannelEmail, ChannelSMS} {
		if _, ok := n.endpoints[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (n *WebhookNotifier) Send(ctx context.Context, channel Channel, msg Message) error {
	url, ok := n.endpoints[channel]
	if !ok {
		return fmt.Errorf("no endpoint configured for channel %s", channel)
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(webhookPayload{Channel: channel, Message: msg}).
		Post(url)
	if err != nil {
		return fmt.Errorf("failed to post %s notification: %w", channel, err)
	}
	if resp.IsError() {
		n.logger.Warn("Notification endpoint returned error",
			zap.String("channel", string(channel)),
			zap.String("alert_id", msg.AlertID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("%s notification rejected: status %d", channel, resp.StatusCode())
	}
	return nil
}
