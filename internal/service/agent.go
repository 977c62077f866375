package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/autosave"
	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/evidence"
	"github.com/RIDSdiseno/RidsMovilFront/internal/geocoder"
	"github.com/RIDSdiseno/RidsMovilFront/internal/history"
	"github.com/RIDSdiseno/RidsMovilFront/internal/httpapi"
	"github.com/RIDSdiseno/RidsMovilFront/internal/session"
	"github.com/RIDSdiseno/RidsMovilFront/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AgentService 访问代理：组装存储、会话状态机、证据提交和 HTTP 门面
type AgentService struct {
	config      *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	kv          store.KV
	sessions    *session.Manager
	drafts      *autosave.Coordinator
	submitter   *evidence.Submitter
	server      *http.Server
}

// NewAgentService 创建访问代理服务
func NewAgentService(cfg *config.Config, positioning geocoder.Positioning, logger *zap.Logger) (*AgentService, error) {
	svc := &AgentService{
		config: cfg,
		logger: logger,
	}

	// 选择持久化后端
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		svc.redisClient = client
		svc.kv = store.NewRedisKV(client)
	case "file":
		kv, err := store.NewFileKV(cfg.Store.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		svc.kv = kv
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}

	svc.sessions = session.NewManager(cfg, svc.kv, logger)
	svc.drafts = autosave.NewCoordinator(cfg, svc.sessions, logger)

	guard := evidence.NewGuard(cfg, svc.kv, logger)
	svc.submitter = evidence.NewSubmitter(cfg, guard, logger)

	if positioning == nil {
		positioning = geocoder.StaticPositioning{Pos: geocoder.Position{
			Latitude:  cfg.Geocoder.Latitude,
			Longitude: cfg.Geocoder.Longitude,
		}}
	}
	resolver := geocoder.NewResolver(cfg, positioning, logger)

	registry := history.NewLog(cfg, svc.kv, logger)

	handler := httpapi.NewVisitHandler(svc.sessions, svc.drafts, svc.submitter, resolver, registry, logger)
	router := httpapi.NewRouter(logger)
	router.RegisterVisitRoutes(handler)

	svc.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return svc, nil
}

// SetToken 透传后端访问令牌（宿主登录/刷新后调用）
func (s *AgentService) SetToken(token string) {
	s.submitter.SetToken(token)
}

// Start 启动本地 HTTP 门面（阻塞直到服务器退出）
func (s *AgentService) Start(ctx context.Context) error {
	s.logger.Info("Starting visit agent",
		zap.String("addr", s.config.Server.Addr),
		zap.String("store_backend", s.config.Store.Backend),
		zap.Bool("session_resumed", s.sessions.Resumed()),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop 停止服务：先停收请求，再写出挂起的会话快照
func (s *AgentService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping visit agent")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down http server", zap.Error(err))
	}

	s.drafts.Close()
	if err := s.sessions.Close(ctx); err != nil {
		s.logger.Error("Error flushing session state", zap.Error(err))
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}

	s.logger.Info("Visit agent stopped")
	return nil
}
