// Package bot 实现 Microsoft Teams（Bot Framework）聊天入口：
// 接收活动、执行查询并以 Adaptive Card 回复。
package bot

import (
	"regexp"
	"strings"
)

// 活动类型
const (
	ActivityTypeMessage            = "message"
	ActivityTypeConversationUpdate = "conversationUpdate"
)

// ChannelAccount 参与者
type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

// ConversationAccount 会话
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
}

// Attachment 消息附件
type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content"`
}

// Activity Bot Framework 活动，只保留用到的字段
type Activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	From         ChannelAccount      `json:"from"`
	Recipient    ChannelAccount      `json:"recipient"`
	Conversation ConversationAccount `json:"conversation"`
	Text         string              `json:"text,omitempty"`
	TextFormat   string              `json:"textFormat,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
	Attachments  []Attachment        `json:"attachments,omitempty"`
	MembersAdded []ChannelAccount    `json:"membersAdded,omitempty"`
}

// Requester 查询发起人标识，优先使用 AAD 对象 ID
func (a *Activity) Requester() string {
	if a.From.AADObjectID != "" {
		return a.From.AADObjectID
	}
	return a.From.ID
}

// NewReply 构建对该活动的回复
func (a *Activity) NewReply(attachments ...Attachment) *Activity {
	return &Activity{
		Type:         ActivityTypeMessage,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		ReplyToID:    a.ID,
		Attachments:  attachments,
	}
}

// NewTextReply 构建纯文本回复
func (a *Activity) NewTextReply(text string) *Activity {
	reply := a.NewReply()
	reply.Text = text
	reply.TextFormat = "plain"
	return reply
}

// MembersJoined 会话更新中是否包含机器人以外的新成员
func (a *Activity) MembersJoined() bool {
	for _, m := range a.MembersAdded {
		if m.ID != a.Recipient.ID {
			return true
		}
	}
	return false
}

var mentionPattern = regexp.MustCompile(`(?is)<at>.*?</at>`)

// QueryText 去掉频道消息中的 @机器人 标记后的查询文本
func (a *Activity) QueryText() string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(a.Text, ""))
}
