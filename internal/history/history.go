package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/session"
	"github.com/RIDSdiseno/RidsMovilFront/internal/store"

	"go.uber.org/zap"
)

// Entry 已完成访问的历史记录
type Entry struct {
	SavedAt time.Time            `json:"savedAt"`
	Visit   session.VisitSession `json:"visit"`
}

// Log 按技术员归档已完成的访问。整个登记表存在单个存储键下，
// 结构为 技术员名 → 访问快照数组，追加时整体读出再写回。
type Log struct {
	kv     store.KV
	key    string
	logger *zap.Logger

	mu sync.Mutex
}

func NewLog(cfg *config.Config, kv store.KV, logger *zap.Logger) *Log {
	return &Log{
		kv:     kv,
		key:    cfg.History.StorageKey,
		logger: logger,
	}
}

// Append 把一次已完成的访问归档到技术员名下
func (l *Log) Append(ctx context.Context, technician string, visit session.VisitSession) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	registry := l.loadLocked(ctx)
	registry[technician] = append(registry[technician], Entry{
		SavedAt: time.Now(),
		Visit:   visit,
	})

	raw, err := json.Marshal(registry)
	if err != nil {
		return err
	}
	if err := l.kv.Set(ctx, l.key, string(raw)); err != nil {
		return err
	}

	l.logger.Info("Visit archived",
		zap.String("technician", technician),
		zap.Int("total", len(registry[technician])),
	)
	return nil
}

// List 返回某技术员的归档记录，最近的在最后
func (l *Log) List(ctx context.Context, technician string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.loadLocked(ctx)[technician]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Technicians 返回登记表中出现过的技术员名
func (l *Log) Technicians(ctx context.Context) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	registry := l.loadLocked(ctx)
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// loadLocked 读取整个登记表。损坏的内容按空表处理，不阻塞归档。
func (l *Log) loadLocked(ctx context.Context) map[string][]Entry {
	registry := make(map[string][]Entry)

	raw, err := l.kv.Get(ctx, l.key)
	if err != nil {
		if err != store.ErrMiss {
			l.logger.Warn("Failed to read visit registry", zap.Error(err))
		}
		return registry
	}

	if err := json.Unmarshal([]byte(raw), &registry); err != nil {
		l.logger.Warn("Visit registry corrupted, starting empty", zap.Error(err))
		return make(map[string][]Entry)
	}
	return registry
}
