package domain

import "time"

// QueryRecord 查询历史记录（只保存查询本身与结果统计，不保存邮件内容）
type QueryRecord struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Query       string    `json:"query" gorm:"type:text;not null"`
	Requester   string    `json:"requester" gorm:"size:255;index"`
	Channel     string    `json:"channel" gorm:"size:32"`
	Status      string    `json:"status" gorm:"size:16"`
	Sender      string    `json:"sender,omitempty" gorm:"size:320"`
	Domain      string    `json:"domain,omitempty" gorm:"size:255"`
	WindowDays  int       `json:"windowDays"`
	ResultCount int       `json:"resultCount"`
	ElapsedMs   int64     `json:"elapsedMs"`
	Outcome     string    `json:"outcome" gorm:"size:32;index"`
	Error       string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (QueryRecord) TableName() string {
	return "query_history"
}

// NewQueryRecord 由查询事件生成历史记录
func NewQueryRecord(id string, event QueryEvent) *QueryRecord {
	record := &QueryRecord{
		ID:          id,
		Query:       event.Query,
		Requester:   event.Requester,
		Channel:     event.Channel,
		ResultCount: event.Count,
		ElapsedMs:   event.ElapsedMs,
		Outcome:     event.Outcome,
		Error:       event.Error,
		CreatedAt:   event.CompletedAt,
	}
	if event.Parameters != nil {
		record.Status = string(event.Parameters.Status)
		record.Sender = event.Parameters.Sender
		record.Domain = event.Parameters.Domain
		record.WindowDays = event.Parameters.WindowDays
	}
	return record
}
