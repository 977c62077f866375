package geocoder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/session"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// UnavailableLabel 无法定位时的哨兵标签，UI 据此提示用户检查权限
const UnavailableLabel = "ubicación no disponible"

// Position 设备坐标
type Position struct {
	Latitude  float64
	Longitude float64
}

// Positioning 宿主提供的定位原语
type Positioning interface {
	RequestPermission(ctx context.Context) (bool, error)
	Current(ctx context.Context) (Position, error)
}

// StaticPositioning 固定坐标实现，宿主没有注册定位桥接时兜底
type StaticPositioning struct {
	Pos Position
}

func (s StaticPositioning) RequestPermission(ctx context.Context) (bool, error) {
	return s.Pos.Latitude != 0 || s.Pos.Longitude != 0, nil
}

func (s StaticPositioning) Current(ctx context.Context) (Position, error) {
	return s.Pos, nil
}

// Resolver 把设备坐标解析为人类可读的位置标签。
// 定位和逆地理编码各自带超时竞速，任何一步失败都只降级、不报错：
// 坐标本身对后端始终是权威数据，标签只是展示用。
type Resolver struct {
	client      *resty.Client
	positioning Positioning
	posTimeout  time.Duration
	geoTimeout  time.Duration
	logger      *zap.Logger
}

func NewResolver(cfg *config.Config, positioning Positioning, logger *zap.Logger) *Resolver {
	geoTimeout := time.Duration(cfg.Geocoder.RequestTimeoutMS) * time.Millisecond
	client := resty.New().
		SetBaseURL(cfg.Geocoder.BaseURL).
		SetTimeout(geoTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "rids-visit-agent/1.0")

	return &Resolver{
		client:      client,
		positioning: positioning,
		posTimeout:  time.Duration(cfg.Geocoder.PositionTimeoutMS) * time.Millisecond,
		geoTimeout:  geoTimeout,
		logger:      logger,
	}
}

// Resolve 获取当前位置并解析标签。永不失败：最差返回哨兵标签。
func (r *Resolver) Resolve(ctx context.Context) session.Location {
	granted, err := r.positioning.RequestPermission(ctx)
	if err != nil || !granted {
		r.logger.Info("Location permission not granted", zap.Error(err))
		return session.Location{Label: UnavailableLabel}
	}

	pos, ok := raceTimeout(ctx, r.posTimeout, func(ctx context.Context) (Position, error) {
		return r.positioning.Current(ctx)
	})
	if !ok {
		r.logger.Warn("Positioning timed out or failed",
			zap.Duration("timeout", r.posTimeout))
		return session.Location{Label: UnavailableLabel}
	}

	loc := session.Location{Latitude: pos.Latitude, Longitude: pos.Longitude}

	label, ok := raceTimeout(ctx, r.geoTimeout, func(ctx context.Context) (string, error) {
		return r.reverseGeocode(ctx, pos)
	})
	if !ok || label == "" {
		// 网络不可用时退到本地区域表
		label = zoneLabel(pos.Latitude, pos.Longitude)
		r.logger.Info("Reverse geocoding unavailable, using zone fallback",
			zap.String("label", label))
	}

	loc.Label = label
	return loc
}

// ResolveLabel 只要标签（坐标已知的调用方）
func (r *Resolver) ResolveLabel(ctx context.Context, lat, lon float64) string {
	pos := Position{Latitude: lat, Longitude: lon}
	label, ok := raceTimeout(ctx, r.geoTimeout, func(ctx context.Context) (string, error) {
		return r.reverseGeocode(ctx, pos)
	})
	if !ok || label == "" {
		return zoneLabel(lat, lon)
	}
	return label
}

type reverseResponse struct {
	Address struct {
		Road          string `json:"road"`
		Neighbourhood string `json:"neighbourhood"`
		Suburb        string `json:"suburb"`
		City          string `json:"city"`
		Town          string `json:"town"`
		State         string `json:"state"`
	} `json:"address"`
}

func (r *Resolver) reverseGeocode(ctx context.Context, pos Position) (string, error) {
	var result reverseResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format": "jsonv2",
			"lat":    formatCoord(pos.Latitude),
			"lon":    formatCoord(pos.Longitude),
		}).
		SetResult(&result).
		Get("/reverse")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", errStatus(resp.Status())
	}

	addr := result.Address
	neighborhood := addr.Neighbourhood
	if neighborhood == "" {
		neighborhood = addr.Suburb
	}
	city := addr.City
	if city == "" {
		city = addr.Town
	}

	parts := make([]string, 0, 4)
	for _, p := range []string{addr.Road, neighborhood, city, addr.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", "), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func errStatus(status string) error {
	return fmt.Errorf("geocoder responded %s", status)
}

// raceTimeout 先到先得：操作结果 vs 定时器。迟到的结果直接丢弃，
// 不做协作式取消之外的任何等待。
func raceTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, bool) {
	type outcome struct {
		value T
		err   error
	}
	var zero T

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		v, err := fn(opCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return zero, false
		}
		return out.value, true
	case <-opCtx.Done():
		return zero, false
	}
}
