package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/store"

	"go.uber.org/zap"
)

const (
	defaultFingerprintKey = "rids.entregaProductos.submittedFingerprints.v1"
	defaultCapacity       = 50
)

// Guard 已接受指纹的有界集合（插入序 = 新旧序）。
// 只防本设备对同一份证据的重复提交（重复点按、超时重试），
// 不是服务端唯一性约束：两台设备仍可能提交等价证据。
type Guard struct {
	kv     store.KV
	key    string
	cap    int
	logger *zap.Logger

	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

// NewGuard 创建守卫并从存储恢复已接受的指纹。
// 损坏的数据不致命：从空集合开始。
func NewGuard(cfg *config.Config, kv store.KV, logger *zap.Logger) *Guard {
	key := defaultFingerprintKey
	capacity := defaultCapacity
	if cfg != nil {
		if cfg.Evidence.FingerprintKey != "" {
			key = cfg.Evidence.FingerprintKey
		}
		if cfg.Evidence.Capacity > 0 {
			capacity = cfg.Evidence.Capacity
		}
	}

	g := &Guard{
		kv:     kv,
		key:    key,
		cap:    capacity,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
	g.load()
	return g
}

func (g *Guard) load() {
	ctx := context.Background()

	raw, err := g.kv.Get(ctx, g.key)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			g.logger.Warn("Failed to load accepted fingerprints", zap.Error(err))
		}
		return
	}

	var fps []string
	if err := json.Unmarshal([]byte(raw), &fps); err != nil {
		g.logger.Warn("Accepted fingerprints corrupt, starting empty", zap.Error(err))
		return
	}

	for _, fp := range fps {
		fp = strings.TrimSpace(fp)
		if fp == "" {
			continue
		}
		if _, ok := g.seen[fp]; ok {
			continue
		}
		g.order = append(g.order, fp)
		g.seen[fp] = struct{}{}
	}
}

// IsDuplicate 指纹是否已被接受过
func (g *Guard) IsDuplicate(fp string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.seen[fp]
	return ok
}

// Accept 记录一个已被后端接受的指纹并立刻持久化。
// 集合超过上限时淘汰最旧的，整个安装生命周期内不会无限增长。
func (g *Guard) Accept(ctx context.Context, fp string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[fp]; !ok {
		g.order = append(g.order, fp)
		g.seen[fp] = struct{}{}
	}

	for len(g.order) > g.cap {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.seen, oldest)
	}

	raw, err := json.Marshal(g.order)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprints: %w", err)
	}
	if err := g.kv.Set(ctx, g.key, string(raw)); err != nil {
		return fmt.Errorf("failed to persist fingerprints: %w", err)
	}
	return nil
}

// Len 当前集合大小（测试用）
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}
