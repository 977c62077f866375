package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/store"

	"go.uber.org/zap"
)

var (
	// ErrSessionAlreadyActive start() 时已有未清理的会话（先 Complete/Clear）
	ErrSessionAlreadyActive = errors.New("session already active")
	// ErrNoActiveSession update()/complete() 时没有进行中的会话
	ErrNoActiveSession = errors.New("no active session")
)

const (
	defaultStorageKey = "visita_en_curso"
	defaultDebounce   = 500 * time.Millisecond
	persistTimeout    = 3 * time.Second
)

// Manager 访问会话状态机。
// 设备上同一时刻最多一个 en_curso 会话；所有修改都经过 Manager，
// 落盘永远是当前内存状态的完整快照，不做字段级补丁。
// Start/Complete/Clear 同步落盘（崩溃不丢状态迁移）；Update 走防抖落盘。
type Manager struct {
	kv       store.KV
	logger   *zap.Logger
	key      string
	debounce time.Duration

	mu      sync.Mutex
	cur     VisitSession
	timer   *time.Timer
	dirty   bool
	resumed bool
	closed  bool
}

// NewManager 创建状态机并从存储恢复上次的会话（如果有）。
// 启动时发现 en_curso 会话属于正常的"恢复"路径，不是错误。
func NewManager(cfg *config.Config, kv store.KV, logger *zap.Logger) *Manager {
	key := defaultStorageKey
	debounce := defaultDebounce
	if cfg != nil {
		if cfg.Session.StorageKey != "" {
			key = cfg.Session.StorageKey
		}
		if cfg.Session.DebounceMS > 0 {
			debounce = time.Duration(cfg.Session.DebounceMS) * time.Millisecond
		}
	}

	m := &Manager{
		kv:       kv,
		logger:   logger,
		key:      key,
		debounce: debounce,
		cur:      initialSession(),
	}
	m.load()
	return m
}

// load 从存储恢复会话；损坏或版本过旧的数据直接清掉，不阻塞启动
func (m *Manager) load() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	raw, err := m.kv.Get(ctx, m.key)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			m.logger.Warn("Failed to load persisted session", zap.Error(err))
		}
		return
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || !isValidEnvelope(&env) {
		m.logger.Warn("Persisted session corrupt or outdated, clearing",
			zap.String("version", env.Version),
		)
		_ = m.kv.Remove(ctx, m.key)
		return
	}

	m.cur = normalize(env.Data)
	m.resumed = m.cur.Status == StatusInProgress

	if m.resumed {
		m.logger.Info("Recovered in-progress visit session",
			zap.Int64("company_id", m.cur.CompanyID),
			zap.Int64("client_id", m.cur.ClientID),
			zap.Timep("started_at", m.cur.StartedAt),
		)
	}
}

func isValidEnvelope(env *envelope) bool {
	switch env.Data.Status {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
	default:
		return false
	}
	return env.Version == envelopeVersion
}

// normalize 补齐反序列化后可能为 nil 的集合字段
func normalize(s VisitSession) VisitSession {
	if s.Requesters == nil {
		s.Requesters = []string{}
	}
	if s.Checklist == nil {
		s.Checklist = map[string]bool{}
	}
	if s.FormDraft == nil {
		s.FormDraft = map[string]string{}
	}
	return s
}

// Start 开始一次新访问。已有会话（en_curso 或未 Clear 的 completada）时拒绝。
func (m *Manager) Start(ctx context.Context, companyID, clientID int64) (VisitSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Status != StatusNotStarted {
		return VisitSession{}, ErrSessionAlreadyActive
	}

	now := time.Now().UTC()
	m.cur = initialSession()
	m.cur.CompanyID = companyID
	m.cur.ClientID = clientID
	m.cur.StartedAt = &now
	m.cur.Status = StatusInProgress
	m.resumed = false

	m.cancelPendingLocked()
	if err := m.persistLocked(ctx); err != nil {
		return VisitSession{}, fmt.Errorf("failed to persist session start: %w", err)
	}

	m.logger.Info("Visit session started",
		zap.Int64("company_id", companyID),
		zap.Int64("client_id", clientID),
	)
	return m.cur.clone(), nil
}

// Update 浅合并字段并调度一次防抖落盘。调用方不等待持久化完成。
func (m *Manager) Update(u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Status != StatusInProgress {
		return ErrNoActiveSession
	}

	if u.SessionID != nil {
		id := *u.SessionID
		m.cur.SessionID = &id
	}
	if u.Requesters != nil {
		m.cur.Requesters = append([]string{}, u.Requesters...)
	}
	for k, v := range u.Checklist {
		m.cur.Checklist[k] = v
	}
	for k, v := range u.FormDraft {
		m.cur.FormDraft[k] = v
	}
	if u.Location != nil {
		loc := *u.Location
		m.cur.Location = &loc
	}

	m.scheduleSaveLocked()
	return nil
}

// Complete 结束访问：记录 endedAt 并同步落盘，返回冻结的快照供提交用。
func (m *Manager) Complete(ctx context.Context) (VisitSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Status != StatusInProgress {
		return VisitSession{}, ErrNoActiveSession
	}

	now := time.Now().UTC()
	m.cur.EndedAt = &now
	m.cur.Status = StatusCompleted

	m.cancelPendingLocked()
	if err := m.persistLocked(ctx); err != nil {
		return VisitSession{}, fmt.Errorf("failed to persist session completion: %w", err)
	}

	m.logger.Info("Visit session completed",
		zap.Int64("company_id", m.cur.CompanyID),
		zap.Int64("client_id", m.cur.ClientID),
	)
	return m.cur.clone(), nil
}

// Clear 回到初始状态并删除存储条目（不是标记，是整条删除）
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelPendingLocked()
	m.cur = initialSession()
	m.resumed = false

	if err := m.kv.Remove(ctx, m.key); err != nil {
		return fmt.Errorf("failed to remove persisted session: %w", err)
	}

	m.logger.Info("Visit session cleared")
	return nil
}

// Current 返回当前会话的快照
func (m *Manager) Current() VisitSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.clone()
}

// Active 是否有进行中的会话
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Status == StatusInProgress
}

// Resumed 本次启动是否恢复了一个进行中的会话
func (m *Manager) Resumed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumed
}

// Elapsed 进行中会话的已用时（"HH:MM"），无会话时为空串
func (m *Manager) Elapsed() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Status != StatusInProgress || m.cur.StartedAt == nil {
		return ""
	}
	d := time.Since(*m.cur.StartedAt)
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Flush 立刻写出挂起的防抖快照（页面销毁/服务停止时调用）
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirty {
		return nil
	}
	m.cancelPendingLocked()
	return m.persistLocked(ctx)
}

// Close 停止防抖定时器并写出挂起的快照
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cancelPendingLocked()
	if !m.dirty {
		return nil
	}
	return m.persistLocked(ctx)
}

// scheduleSaveLocked 重置防抖定时器：窗口内的新修改会顶掉旧的写计划，
// 窗口安静后只落一次盘（trailing edge）
func (m *Manager) scheduleSaveLocked() {
	m.dirty = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, m.flushDebounced)
}

func (m *Manager) flushDebounced() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.dirty {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := m.persistLocked(ctx); err != nil {
		m.logger.Error("Failed to persist session snapshot", zap.Error(err))
	}
}

func (m *Manager) cancelPendingLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// persistLocked 写出完整快照（envelope 格式），成功后清除 dirty 标记
func (m *Manager) persistLocked(ctx context.Context) error {
	env := envelope{
		Version: envelopeVersion,
		SavedAt: time.Now().UTC(),
		Data:    m.cur,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.kv.Set(ctx, m.key, string(raw)); err != nil {
		return err
	}
	m.dirty = false
	return nil
}
