package config

import (
	"os"
	"strconv"
)

// Config 访问代理（visit-agent）配置
type Config struct {
	Server struct {
		Addr string
	}

	// 持久化存储后端
	// 选项：redis（默认）、file（无 Redis 的安装环境，单文件 JSON）
	Store struct {
		Backend  string // "redis" 或 "file"
		FilePath string // file 后端的存储路径
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	// RIDS 后端 REST API（crear_visita / finalizar_visita / entregas）
	Backend struct {
		BaseURL string
		Token   string
	}

	// 逆地理编码服务
	Geocoder struct {
		BaseURL           string
		PositionTimeoutMS int // 等待定位结果的上限
		RequestTimeoutMS  int // 逆地理编码请求的上限（比定位更短）
		// 设备默认坐标（宿主未注册定位桥接时使用）
		Latitude  float64
		Longitude float64
	}

	Session struct {
		StorageKey string
		DebounceMS int // 会话快照的落盘防抖窗口
	}

	Autosave struct {
		WindowMS int // 表单字段源的空闲防抖窗口
	}

	Evidence struct {
		FingerprintKey string
		Capacity       int // 指纹集合上限，超出后淘汰最旧的
		MaxUploadBytes int
		MaxDimension   int
		Quality        float64
	}

	History struct {
		StorageKey string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Server.Addr = getEnv("AGENT_ADDR", ":8780")

	cfg.Store.Backend = getEnv("STORE_BACKEND", "redis")
	cfg.Store.FilePath = getEnv("STORE_FILE_PATH", "agent-state.json")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Backend.BaseURL = getEnv("RIDS_API_URL", "http://localhost:3000/api")
	cfg.Backend.Token = getEnv("RIDS_API_TOKEN", "")

	cfg.Geocoder.BaseURL = getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org")
	cfg.Geocoder.PositionTimeoutMS = getEnvInt("GEOCODER_POSITION_TIMEOUT_MS", 6000)
	cfg.Geocoder.RequestTimeoutMS = getEnvInt("GEOCODER_REQUEST_TIMEOUT_MS", 3000)
	cfg.Geocoder.Latitude = getEnvFloat("DEVICE_LAT", 0)
	cfg.Geocoder.Longitude = getEnvFloat("DEVICE_LON", 0)

	cfg.Session.StorageKey = getEnv("SESSION_STORAGE_KEY", "visita_en_curso")
	cfg.Session.DebounceMS = getEnvInt("SESSION_DEBOUNCE_MS", 500)

	cfg.Autosave.WindowMS = getEnvInt("AUTOSAVE_WINDOW_MS", 1000)

	cfg.Evidence.FingerprintKey = getEnv("EVIDENCE_FINGERPRINT_KEY", "rids.entregaProductos.submittedFingerprints.v1")
	cfg.Evidence.Capacity = getEnvInt("EVIDENCE_FINGERPRINT_CAP", 50)
	cfg.Evidence.MaxUploadBytes = getEnvInt("EVIDENCE_MAX_UPLOAD_BYTES", 220_000)
	cfg.Evidence.MaxDimension = getEnvInt("EVIDENCE_MAX_DIMENSION", 1280)
	cfg.Evidence.Quality = 0.75

	cfg.History.StorageKey = getEnv("HISTORY_STORAGE_KEY", "visitas_registro")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}
