package evidence

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/photo"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateDelivery 同一份证据已提交过。不是故障，调用方
	// 以提示信息呈现给用户，不算失败。
	ErrDuplicateDelivery = errors.New("delivery already submitted")
	// ErrIncompleteDelivery 必填字段缺失，无法计算指纹
	ErrIncompleteDelivery = errors.New("delivery evidence incomplete")
)

// DeliveryRequest 一次交付登记：照片 + 手写签名 + 收件人信息
type DeliveryRequest struct {
	CompanyName  string
	ReceiverName string
	Date         time.Time
	Photo        []byte
	PhotoInfo    FileInfo
	SignaturePNG []byte
}

// DeliveryResult 提交结果
type DeliveryResult struct {
	DeliveryID  int64  `json:"deliveryId"`
	Fingerprint string `json:"fingerprint"`
	PhotoBytes  int    `json:"photoBytes"`
}

// Submitter 交付证据提交流程：压缩照片 → 指纹查重 → 创建交付 →
// 逐个上传/确认证据 → 记录指纹。
type Submitter struct {
	client   *resty.Client
	guard    *Guard
	compress photo.Options
	logger   *zap.Logger
}

func NewSubmitter(cfg *config.Config, guard *Guard, logger *zap.Logger) *Submitter {
	client := resty.New().
		SetBaseURL(cfg.Backend.BaseURL).
		SetTimeout(30 * time.Second). // 证据上传可能较慢
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.Backend.Token != "" {
		client.SetAuthToken(cfg.Backend.Token)
	}

	return &Submitter{
		client: client,
		guard:  guard,
		compress: photo.Options{
			MaxBytes:     cfg.Evidence.MaxUploadBytes,
			MaxDimension: cfg.Evidence.MaxDimension,
			Quality:      cfg.Evidence.Quality,
		},
		logger: logger,
	}
}

// SetToken 更新后端访问令牌（宿主登录/刷新后调用）
func (s *Submitter) SetToken(token string) {
	s.client.SetAuthToken(token)
}

type createDeliveryRequest struct {
	EmpresaNombre  string `json:"empresaNombre"`
	ReceptorNombre string `json:"receptorNombre"`
	Fecha          string `json:"fecha"`
}

type createDeliveryResponse struct {
	Entrega struct {
		IDEntrega int64 `json:"id_entrega"`
		ID        int64 `json:"id"`
	} `json:"entrega"`
	IDEntrega int64 `json:"id_entrega"`
}

func (r *createDeliveryResponse) deliveryID() int64 {
	if r.Entrega.IDEntrega != 0 {
		return r.Entrega.IDEntrega
	}
	if r.Entrega.ID != 0 {
		return r.Entrega.ID
	}
	return r.IDEntrega
}

// uploadSlot 后端为单个证据签发的上传凭证
type uploadSlot struct {
	RequiresUpload *bool    `json:"requiresUpload"`
	UploadURL      string   `json:"uploadUrl"`
	CloudName      string   `json:"cloudName"`
	APIKey         string   `json:"apiKey"`
	Timestamp      int64    `json:"timestamp"`
	Signature      string   `json:"signature"`
	Folder         string   `json:"folder"`
	PublicID       string   `json:"publicId"`
	MaxBytes       int64    `json:"maxBytes"`
	AllowedFormats []string `json:"allowedFormats"`
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	PublicID  string `json:"public_id"`
	Bytes     int64  `json:"bytes"`
}

// Submit 执行完整的交付提交。重复提交返回 ErrDuplicateDelivery，
// 后端成功接受后才把指纹记入守卫。
func (s *Submitter) Submit(ctx context.Context, req DeliveryRequest) (*DeliveryResult, error) {
	candidate := Candidate{
		ReceiverName: req.ReceiverName,
		CompanyName:  req.CompanyName,
		File:         &req.PhotoInfo,
		SignaturePNG: req.SignaturePNG,
	}
	if req.PhotoInfo == (FileInfo{}) {
		candidate.File = nil
	}

	fp, ok := Fingerprint(candidate)
	if !ok {
		return nil, ErrIncompleteDelivery
	}
	if s.guard.IsDuplicate(fp) {
		return nil, ErrDuplicateDelivery
	}

	// 压缩失败不阻塞提交，用原图继续
	compressed, err := photo.Compress(req.Photo, s.compress)
	if err != nil {
		s.logger.Warn("Photo compression failed, uploading original", zap.Error(err))
	}

	date := req.Date
	if date.IsZero() {
		date = time.Now()
	}

	requestID := uuid.NewString()
	var created createDeliveryResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", requestID).
		SetBody(createDeliveryRequest{
			EmpresaNombre:  req.CompanyName,
			ReceptorNombre: req.ReceiverName,
			Fecha:          date.UTC().Format(time.RFC3339),
		}).
		SetResult(&created).
		Post("/entregas")
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("backend rejected delivery: %s", resp.Status())
	}

	deliveryID := created.deliveryID()
	if deliveryID == 0 {
		return nil, errors.New("backend did not return a delivery id")
	}

	if err := s.uploadEvidence(ctx, deliveryID, "foto", "jpeg", compressed); err != nil {
		return nil, err
	}
	if err := s.uploadEvidence(ctx, deliveryID, "firma", "png", req.SignaturePNG); err != nil {
		return nil, err
	}

	if err := s.guard.Accept(ctx, fp); err != nil {
		// 提交已经成功，指纹没记上只记日志：最坏情况是下次重复提交
		// 被后端挡而不是本地挡
		s.logger.Warn("Failed to persist accepted fingerprint", zap.Error(err))
	}

	s.logger.Info("Delivery submitted",
		zap.Int64("delivery_id", deliveryID),
		zap.String("fingerprint", fp),
		zap.String("request_id", requestID),
	)

	return &DeliveryResult{
		DeliveryID:  deliveryID,
		Fingerprint: fp,
		PhotoBytes:  len(compressed),
	}, nil
}

// uploadEvidence 为单个证据申请上传凭证并完成上传+确认。
// 照片走云上传；签名在后端不要求上传时直接以向量（dataURL）确认。
func (s *Submitter) uploadEvidence(ctx context.Context, deliveryID int64, tipo, formato string, data []byte) error {
	var slot uploadSlot
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"tipo":    tipo,
			"formato": formato,
			"bytes":   len(data),
		}).
		SetResult(&slot).
		Post(fmt.Sprintf("/entregas/%d/evidencias/firma", deliveryID))
	if err != nil {
		return fmt.Errorf("failed to request upload slot for %s: %w", tipo, err)
	}
	if resp.IsError() {
		return fmt.Errorf("backend rejected %s upload slot: %s", tipo, resp.Status())
	}

	// 签名证据：后端不要求上传时直接回传向量
	if tipo == "firma" && (slot.CloudName == "" || (slot.RequiresUpload != nil && !*slot.RequiresUpload)) {
		return s.confirmEvidence(ctx, deliveryID, map[string]any{
			"tipo":   "firma",
			"vector": "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		})
	}

	if slot.MaxBytes > 0 && int64(len(data)) > slot.MaxBytes {
		return fmt.Errorf("%s evidence exceeds allowed upload size (%d > %d)", tipo, len(data), slot.MaxBytes)
	}
	if len(slot.AllowedFormats) > 0 && !contains(slot.AllowedFormats, formato) {
		return fmt.Errorf("%s format not accepted by backend: %s", tipo, formato)
	}

	uploadURL := slot.UploadURL
	if uploadURL == "" {
		if slot.CloudName == "" {
			return fmt.Errorf("no upload destination for %s evidence", tipo)
		}
		uploadURL = fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/auto/upload", slot.CloudName)
	}

	fileName := fmt.Sprintf("%s-%d.%s", tipo, deliveryID, extension(formato))
	var uploaded uploadResponse
	upResp, err := s.client.R().
		SetContext(ctx).
		SetFileReader("file", fileName, bytes.NewReader(data)).
		SetFormData(map[string]string{
			"api_key":   slot.APIKey,
			"timestamp": fmt.Sprintf("%d", slot.Timestamp),
			"signature": slot.Signature,
			"folder":    slot.Folder,
			"public_id": slot.PublicID,
		}).
		SetResult(&uploaded).
		Post(uploadURL)
	if err != nil {
		return fmt.Errorf("failed to upload %s evidence: %w", tipo, err)
	}
	if upResp.IsError() {
		return fmt.Errorf("%s evidence upload rejected: %s", tipo, upResp.Status())
	}

	url := uploaded.SecureURL
	if url == "" {
		url = uploaded.URL
	}
	publicID := uploaded.PublicID
	if publicID == "" {
		publicID = slot.PublicID
	}
	if url == "" || publicID == "" {
		return fmt.Errorf("incomplete upload response for %s evidence", tipo)
	}

	uploadedBytes := uploaded.Bytes
	if uploadedBytes == 0 {
		uploadedBytes = int64(len(data))
	}

	return s.confirmEvidence(ctx, deliveryID, map[string]any{
		"tipo":     tipo,
		"formato":  formato,
		"bytes":    uploadedBytes,
		"url":      url,
		"publicId": publicID,
	})
}

func (s *Submitter) confirmEvidence(ctx context.Context, deliveryID int64, body map[string]any) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/entregas/%d/evidencias/confirmar", deliveryID))
	if err != nil {
		return fmt.Errorf("failed to confirm evidence: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("backend rejected evidence confirmation: %s", resp.Status())
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func extension(formato string) string {
	if formato == "jpeg" {
		return "jpg"
	}
	return formato
}
