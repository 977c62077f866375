package autosave

import (
	"sync"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/session"

	"go.uber.org/zap"
)

// Source 表单字段变化源。每个源独立防抖，源之间互不保序。
type Source string

const (
	SourceChecklist Source = "checklist"
	SourceNotes     Source = "notes"
	SourceCompany   Source = "company"
)

const defaultWindow = time.Second

// Coordinator 把表单的逐键/逐勾选变化流折叠成低频的会话更新。
// 每个源缓存最新值并重置倒计时；倒计时走完才把缓存值送进状态机
// （trailing edge，最后的值生效）。窗口内到达的新值会顶掉旧的写计划。
type Coordinator struct {
	mgr    *session.Manager
	window time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	timers  map[Source]*time.Timer
	pending map[Source]session.Update
	closed  bool
}

func NewCoordinator(cfg *config.Config, mgr *session.Manager, logger *zap.Logger) *Coordinator {
	window := defaultWindow
	if cfg != nil && cfg.Autosave.WindowMS > 0 {
		window = time.Duration(cfg.Autosave.WindowMS) * time.Millisecond
	}
	return &Coordinator{
		mgr:     mgr,
		window:  window,
		logger:  logger,
		timers:  make(map[Source]*time.Timer),
		pending: make(map[Source]session.Update),
	}
}

// Checklist 勾选项变化（整组最新状态）
func (c *Coordinator) Checklist(items map[string]bool) {
	c.submit(SourceChecklist, session.Update{Checklist: items})
}

// Notes 自由文本字段变化（realizado / otrosDetalle 等）
func (c *Coordinator) Notes(fields map[string]string) {
	c.submit(SourceNotes, session.Update{FormDraft: fields})
}

// Company 表单上选中的企业名称变化
func (c *Coordinator) Company(name string) {
	c.submit(SourceCompany, session.Update{FormDraft: map[string]string{"empresa": name}})
}

func (c *Coordinator) submit(src Source, u session.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.pending[src] = u
	if t, ok := c.timers[src]; ok {
		t.Stop()
	}
	c.timers[src] = time.AfterFunc(c.window, func() { c.emit(src) })
}

func (c *Coordinator) emit(src Source) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	u, ok := c.pending[src]
	delete(c.pending, src)
	delete(c.timers, src)
	c.mu.Unlock()

	if !ok {
		return
	}

	if err := c.mgr.Update(u); err != nil {
		// 屏幕已离开/会话已结束时的迟到写，丢弃即可
		c.logger.Debug("Dropped autosave update",
			zap.String("source", string(src)),
			zap.Error(err),
		)
	}
}

// Close 取消所有倒计时并丢弃挂起的值。页面销毁时必须调用，
// 避免持有者消失后还往会话里写。
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = map[Source]*time.Timer{}
	c.pending = map[Source]session.Update{}
}
