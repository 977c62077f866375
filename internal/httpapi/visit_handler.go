package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/autosave"
	"github.com/RIDSdiseno/RidsMovilFront/internal/evidence"
	"github.com/RIDSdiseno/RidsMovilFront/internal/geocoder"
	"github.com/RIDSdiseno/RidsMovilFront/internal/history"
	"github.com/RIDSdiseno/RidsMovilFront/internal/session"

	"go.uber.org/zap"
)

// maxDeliveryUpload 交付证据 multipart 请求体上限
const maxDeliveryUpload = 25 << 20

// VisitHandler 访问会话的本地 HTTP 门面。UI 只通过这里驱动代理，
// 自己不碰存储和后端。
type VisitHandler struct {
	sessions  *session.Manager
	drafts    *autosave.Coordinator
	submitter *evidence.Submitter
	resolver  *geocoder.Resolver
	registry  *history.Log
	logger    *zap.Logger
}

func NewVisitHandler(
	sessions *session.Manager,
	drafts *autosave.Coordinator,
	submitter *evidence.Submitter,
	resolver *geocoder.Resolver,
	registry *history.Log,
	logger *zap.Logger,
) *VisitHandler {
	return &VisitHandler{
		sessions:  sessions,
		drafts:    drafts,
		submitter: submitter,
		resolver:  resolver,
		registry:  registry,
		logger:    logger,
	}
}

// sessionView 会话状态 + 派生字段
type sessionView struct {
	Session session.VisitSession `json:"session"`
	Active  bool                 `json:"active"`
	Resumed bool                 `json:"resumed"`
	Elapsed string               `json:"elapsed,omitempty"`
}

func (v *VisitHandler) currentView() sessionView {
	return sessionView{
		Session: v.sessions.Current(),
		Active:  v.sessions.Active(),
		Resumed: v.sessions.Resumed(),
		Elapsed: v.sessions.Elapsed(),
	}
}

func (v *VisitHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(v.currentView()))
}

type startRequest struct {
	CompanyID int64 `json:"companyId"`
	ClientID  int64 `json:"clientId"`
}

func (v *VisitHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.CompanyID == 0 || req.ClientID == 0 {
		writeJSON(w, http.StatusBadRequest, Fail("companyId and clientId are required"))
		return
	}

	snapshot, err := v.sessions.Start(r.Context(), req.CompanyID, req.ClientID)
	if err != nil {
		if errors.Is(err, session.ErrSessionAlreadyActive) {
			writeJSON(w, http.StatusConflict, Fail("ya existe una visita en curso"))
			return
		}
		v.logger.Error("Failed to start visit session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to start session"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(snapshot))
}

type updateRequest struct {
	SessionID  *int64            `json:"sessionId"`
	Requesters []string          `json:"requesters"`
	Checklist  map[string]bool   `json:"checklist"`
	FormDraft  map[string]string `json:"formDraft"`
	Location   *session.Location `json:"location"`
}

func (v *VisitHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	err := v.sessions.Update(session.Update{
		SessionID:  req.SessionID,
		Requesters: req.Requesters,
		Checklist:  req.Checklist,
		FormDraft:  req.FormDraft,
		Location:   req.Location,
	})
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			writeJSON(w, http.StatusConflict, Fail("no hay una visita en curso"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, Fail("failed to update session"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(v.currentView()))
}

type completeRequest struct {
	Technician string `json:"tecnico"`
}

func (v *VisitHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength > 0 {
		if err := readJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
			return
		}
	}

	snapshot, err := v.sessions.Complete(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			writeJSON(w, http.StatusConflict, Fail("no hay una visita en curso"))
			return
		}
		v.logger.Error("Failed to complete visit session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to complete session"))
		return
	}

	technician := req.Technician
	if technician == "" {
		technician = "desconocido"
	}
	if err := v.registry.Append(r.Context(), technician, snapshot); err != nil {
		// 归档失败不回滚完成：会话状态已冻结，登记只是本地台账
		v.logger.Warn("Failed to archive completed visit", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, Ok(snapshot))
}

func (v *VisitHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	if err := v.sessions.Clear(r.Context()); err != nil {
		v.logger.Error("Failed to clear visit session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to clear session"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(v.currentView()))
}

func (v *VisitHandler) ResolveLocation(w http.ResponseWriter, r *http.Request) {
	loc := v.resolver.Resolve(r.Context())

	// 有进行中的会话时顺带写进去；没有也照样把结果还给 UI
	if err := v.sessions.Update(session.Update{Location: &loc}); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
		v.logger.Warn("Failed to attach location to session", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, Ok(loc))
}

type autosaveRequest struct {
	Source    string            `json:"source"`
	Checklist map[string]bool   `json:"checklist"`
	Fields    map[string]string `json:"fields"`
	Company   string            `json:"company"`
}

func (v *VisitHandler) Autosave(w http.ResponseWriter, r *http.Request) {
	var req autosaveRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	switch autosave.Source(req.Source) {
	case autosave.SourceChecklist:
		v.drafts.Checklist(req.Checklist)
	case autosave.SourceNotes:
		v.drafts.Notes(req.Fields)
	case autosave.SourceCompany:
		v.drafts.Company(req.Company)
	default:
		writeJSON(w, http.StatusBadRequest, Fail("unknown autosave source"))
		return
	}
	writeJSON(w, http.StatusAccepted, Ok("queued"))
}

// SubmitDelivery 交付证据提交（multipart：empresa / receptor / foto / firma）
func (v *VisitHandler) SubmitDelivery(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxDeliveryUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid multipart body"))
		return
	}

	req := evidence.DeliveryRequest{
		CompanyName:  r.FormValue("empresa"),
		ReceiverName: r.FormValue("receptor"),
	}
	if fecha := r.FormValue("fecha"); fecha != "" {
		if t, err := time.Parse(time.RFC3339, fecha); err == nil {
			req.Date = t
		}
	}

	photo, photoHeader, err := r.FormFile("foto")
	if err == nil {
		defer photo.Close()
		data, readErr := io.ReadAll(photo)
		if readErr != nil {
			writeJSON(w, http.StatusBadRequest, Fail("failed to read photo"))
			return
		}
		req.Photo = data
		req.PhotoInfo = evidence.FileInfo{
			Name:         photoHeader.Filename,
			Size:         int64(len(data)),
			LastModified: lastModifiedMillis(r),
			MediaType:    photoHeader.Header.Get("Content-Type"),
		}
	}

	firma, _, err := r.FormFile("firma")
	if err == nil {
		defer firma.Close()
		data, readErr := io.ReadAll(firma)
		if readErr != nil {
			writeJSON(w, http.StatusBadRequest, Fail("failed to read signature"))
			return
		}
		req.SignaturePNG = data
	}

	result, err := v.submitter.Submit(r.Context(), req)
	switch {
	case errors.Is(err, evidence.ErrDuplicateDelivery):
		// 重复提交对用户是提示而不是故障
		writeJSON(w, http.StatusOK, Ok(map[string]any{
			"duplicate": true,
			"message":   "esta entrega ya fue registrada",
		}))
	case errors.Is(err, evidence.ErrIncompleteDelivery):
		writeJSON(w, http.StatusBadRequest, Fail("faltan datos de la entrega"))
	case err != nil:
		v.logger.Error("Delivery submission failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, Fail("no se pudo registrar la entrega"))
	default:
		writeJSON(w, http.StatusOK, Ok(map[string]any{
			"duplicate":   false,
			"deliveryId":  result.DeliveryID,
			"fingerprint": result.Fingerprint,
			"photoBytes":  result.PhotoBytes,
		}))
	}
}

func lastModifiedMillis(r *http.Request) int64 {
	if v := r.FormValue("fotoLastModified"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ms
		}
	}
	return 0
}

func (v *VisitHandler) History(w http.ResponseWriter, r *http.Request) {
	technician := r.URL.Query().Get("tecnico")
	entries := v.registry.List(r.Context(), technician)
	writeJSON(w, http.StatusOK, Ok(entries))
}

func (v *VisitHandler) HistoryExport(w http.ResponseWriter, r *http.Request) {
	technician := r.URL.Query().Get("tecnico")
	data, err := v.registry.ExportXLSX(r.Context(), technician)
	if err != nil {
		v.logger.Error("Failed to export visit registry", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export registry"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="visitas_registro.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (v *VisitHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
