package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailaudit/backend/internal/domain"
)

// AdaptiveCardContentType Adaptive Card 附件类型
const AdaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

// MaxCardRecords 结果卡片最多展示的记录数
const MaxCardRecords = 10

const cardSchema = "http://adaptivecards.io/schemas/adaptive-card.json"

// Card Adaptive Card 1.4
type Card struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Schema  string `json:"$schema,omitempty"`
	Body    []any  `json:"body"`
}

// Container 容器元素
type Container struct {
	Type      string `json:"type"`
	Style     string `json:"style,omitempty"`
	Separator bool   `json:"separator,omitempty"`
	Items     []any  `json:"items"`
}

// TextBlock 文本元素
type TextBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Weight   string `json:"weight,omitempty"`
	Size     string `json:"size,omitempty"`
	Color    string `json:"color,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
	IsSubtle bool   `json:"isSubtle,omitempty"`
}

// FactSet 键值列表
type FactSet struct {
	Type  string `json:"type"`
	Facts []Fact `json:"facts"`
}

// Fact 单个键值
type Fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

func newCard(body ...any) Attachment {
	return Attachment{
		ContentType: AdaptiveCardContentType,
		Content: &Card{
			Type:    "AdaptiveCard",
			Version: "1.4",
			Schema:  cardSchema,
			Body:    body,
		},
	}
}

func container(style string, items ...any) *Container {
	return &Container{Type: "Container", Style: style, Items: items}
}

func text(s string) *TextBlock {
	return &TextBlock{Type: "TextBlock", Text: s, Wrap: true}
}

// ResultsCard 查询结果卡片
//
// 只展示前 MaxCardRecords 条，标题中的数量始终是总数。
func ResultsCard(result *domain.SearchResult) Attachment {
	body := []any{resultsHeader(result)}

	records := result.Records
	if len(records) > MaxCardRecords {
		records = records[:MaxCardRecords]
	}
	for i := range records {
		body = append(body, recordSection(&records[i]))
	}

	if result.Count > MaxCardRecords {
		body = append(body, container("",
			&TextBlock{
				Type:     "TextBlock",
				Text:     fmt.Sprintf("Showing first %d of %d results. Narrow the query to see more.", MaxCardRecords, result.Count),
				Size:     "small",
				IsSubtle: true,
				Wrap:     true,
			},
		))
	}

	body = append(body, footer())
	return newCard(body...)
}

func resultsHeader(result *domain.SearchResult) *Container {
	title := "✅ No Emails Found"
	style := "good"
	if result.Count > 0 {
		title = fmt.Sprintf("📧 Found %d Email(s)", result.Count)
		style = "attention"
	}

	return container(style,
		&TextBlock{Type: "TextBlock", Text: title, Weight: "bolder", Size: "large"},
		&TextBlock{
			Type:     "TextBlock",
			Text:     fmt.Sprintf("Query: \"%s\" • %dms", result.Query, result.ElapsedMs),
			Size:     "small",
			IsSubtle: true,
			Wrap:     true,
		},
	)
}

func recordSection(r *domain.EmailRecord) *Container {
	subject := r.Subject
	if subject == "" {
		subject = domain.DefaultSubject
	}

	c := container("",
		&TextBlock{Type: "TextBlock", Text: subject, Weight: "bolder", Wrap: true},
		&FactSet{
			Type: "FactSet",
			Facts: []Fact{
				{Title: "From:", Value: r.Sender},
				{Title: "To:", Value: r.Recipient},
				{Title: "Status:", Value: strings.ToUpper(string(r.Status))},
				{Title: "Reason:", Value: r.Reason},
				{Title: "Date:", Value: r.OccurredAt.UTC().Format("2006-01-02 15:04 MST")},
			},
		},
	)
	c.Separator = true
	return c
}

func footer() *Container {
	return container("",
		&TextBlock{
			Type:     "TextBlock",
			Text:     "Email Agent • Powered by Anthropic Claude",
			Size:     "small",
			Color:    "dark",
			IsSubtle: true,
		},
	)
}

// ErrorCard 错误卡片
func ErrorCard(message string) Attachment {
	return newCard(container("attention",
		&TextBlock{Type: "TextBlock", Text: "⚠️ Error", Weight: "bolder", Size: "large"},
		text(message),
	))
}

// WelcomeCard 欢迎卡片，附带示例查询
func WelcomeCard() Attachment {
	return newCard(
		container("emphasis",
			&TextBlock{Type: "TextBlock", Text: "📧 Email Agent", Weight: "bolder", Size: "extraLarge"},
			&TextBlock{
				Type:     "TextBlock",
				Text:     "Query Mimecast email audit logs using natural language",
				Wrap:     true,
				IsSubtle: true,
			},
		),
		container("",
			&TextBlock{Type: "TextBlock", Text: "Example Queries", Weight: "bolder", Size: "medium"},
			text("• \"Show blocked emails from sender@example.com\"\n"+
				"• \"List held emails from last 7 days\"\n"+
				"• \"Check rejected emails from domain.com\""),
		),
	)
}

// NewErrorID 生成返回给用户并写入日志的错误编号
func NewErrorID(now time.Time) string {
	return fmt.Sprintf("error-%d-%s", now.UnixMilli(), uuid.NewString()[:7])
}

// UserMessage 把查询错误转换为可以展示给用户的文本
//
// 意图无法识别、限流和未就绪给出明确提示；其他错误只暴露错误编号。
func UserMessage(err error, errorID string) string {
	switch {
	case domain.IsUserIntent(err):
		return domain.RephraseMessage
	case domain.ErrorKind(err) == domain.ErrorKindRateLimited:
		return "You're sending queries too quickly. Please wait a minute and try again."
	case domain.IsNotReady(err):
		return "The email auditor is starting up. Please try again in a moment."
	default:
		return "Sorry, something went wrong. Error ID: " + errorID
	}
}
