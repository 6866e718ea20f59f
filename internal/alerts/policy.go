package alerts

import (
	"time"

	"mushroom-automation/internal/models"
)

// Channel 通知渠道
type Channel string

const (
	ChannelLog     Channel = "log"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
)

// EscalationRule 告警升级规则：active 且未确认超过 After 后提升严重级别并补发通知
type EscalationRule struct {
	After    time.Duration
	Channels []Channel
}

// Policy 告警路由与升级策略
type Policy struct {
	// Routing 按严重级别路由的通知渠道
	Routing map[models.AlertSeverity][]Channel
	// Escalation 按告警类型的升级规则
	Escalation map[models.AlertType]EscalationRule
	// DefaultEscalationDelay 未配置类型的升级延迟，0 表示不升级
	DefaultEscalationDelay time.Duration
}

// DefaultPolicy 默认策略
// 升级规则：
//   - temperature_high：5 分钟，email + sms
//   - humidity_low：10 分钟，email
//   - co2_high：3 分钟，email + webhook
func DefaultPolicy() Policy {
	return Policy{
		Routing: map[models.AlertSeverity][]Channel{
			models.SeverityLow:      {ChannelLog},
			models.SeverityMedium:   {ChannelLog, ChannelWebhook},
			models.SeverityHigh:     {ChannelLog, ChannelWebhook, ChannelEmail},
			models.SeverityCritical: {ChannelLog, ChannelWebhook, ChannelEmail, ChannelSMS},
		},
		Escalation: map[models.AlertType]EscalationRule{
			models.AlertTemperatureHigh: {After: 300 * time.Second, Channels: []Channel{ChannelEmail, ChannelSMS}},
			models.AlertHumidityLow:     {After: 600 * time.Second, Channels: []Channel{ChannelEmail}},
			models.AlertCO2High:         {After: 180 * time.Second, Channels: []Channel{ChannelEmail, ChannelWebhook}},
		},
		DefaultEscalationDelay: 30 * time.Minute,
	}
}

// ChannelsFor 严重级别对应的通知渠道
func (p Policy) ChannelsFor(severity models.AlertSeverity) []Channel {
	return p.Routing[severity]
}

func (p Policy) escalationFor(t models.AlertType) (EscalationRule, bool) {
	if rule, ok := p.Escalation[t]; ok && rule.After > 0 {
		return rule, true
	}
	if p.DefaultEscalationDelay > 0 {
		return EscalationRule{After: p.DefaultEscalationDelay}, true
	}
	return EscalationRule{}, false
}

// mergeChannels 合并渠道列表并去重，保持首次出现顺序
func mergeChannels(lists ...[]Channel) []Channel {
	seen := make(map[Channel]bool)
	var out []Channel
	for _, list := range lists {
		for _, ch := range list {
			if seen[ch] {
				continue
			}
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}
