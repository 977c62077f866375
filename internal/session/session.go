package session

import (
	"time"
)

// Status 访问会话状态
type Status string

const (
	StatusNotStarted Status = "sin_iniciar"
	StatusInProgress Status = "en_curso"
	StatusCompleted  Status = "completada"
)

// Location 会话定位信息。Label 由逆地理编码异步补齐，可能晚于坐标。
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// VisitSession 单个进行中的技术员访问。
// SessionID 在后端确认创建之前为 nil。
type VisitSession struct {
	SessionID  *int64            `json:"sessionId"`
	CompanyID  int64             `json:"companyId"`
	ClientID   int64             `json:"clientId"`
	Requesters []string          `json:"requesters"`
	Checklist  map[string]bool   `json:"checklist"`
	FormDraft  map[string]string `json:"formDraft"`
	Location   *Location         `json:"location,omitempty"`
	StartedAt  *time.Time        `json:"startedAt"`
	EndedAt    *time.Time        `json:"endedAt,omitempty"`
	Status     Status            `json:"status"`
}

// Update 对进行中会话的一次浅合并。
// nil 字段表示不修改；Checklist/FormDraft 按键合并，Requesters 整体替换。
type Update struct {
	SessionID  *int64
	Requesters []string
	Checklist  map[string]bool
	FormDraft  map[string]string
	Location   *Location
}

// envelope 落盘格式：版本号 + 保存时间 + 会话快照。
// 版本不匹配视为损坏数据，启动时直接清掉。
type envelope struct {
	Version string       `json:"version"`
	SavedAt time.Time    `json:"savedAt"`
	Data    VisitSession `json:"data"`
}

const envelopeVersion = "1.0"

func initialSession() VisitSession {
	return VisitSession{
		Requesters: []string{},
		Checklist:  map[string]bool{},
		FormDraft:  map[string]string{},
		Status:     StatusNotStarted,
	}
}

// clone 深拷贝会话，调用方拿到的快照与内部状态互不影响
func (s VisitSession) clone() VisitSession {
	out := s

	if s.SessionID != nil {
		id := *s.SessionID
		out.SessionID = &id
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}

	out.Requesters = append([]string{}, s.Requesters...)

	out.Checklist = make(map[string]bool, len(s.Checklist))
	for k, v := range s.Checklist {
		out.Checklist[k] = v
	}

	out.FormDraft = make(map[string]string, len(s.FormDraft))
	for k, v := range s.FormDraft {
		out.FormDraft[k] = v
	}

	return out
}
