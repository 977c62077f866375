package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterVisitRoutes 注册与移动端 UI 对齐的本地路由
func (r *Router) RegisterVisitRoutes(v *VisitHandler) {
	r.Handle("/visit/api/v1/session", methodOnly(http.MethodGet, v.GetSession))
	r.Handle("/visit/api/v1/session/start", methodOnly(http.MethodPost, v.StartSession))
	r.Handle("/visit/api/v1/session/update", methodOnly(http.MethodPost, v.UpdateSession))
	r.Handle("/visit/api/v1/session/complete", methodOnly(http.MethodPost, v.CompleteSession))
	r.Handle("/visit/api/v1/session/clear", methodOnly(http.MethodPost, v.ClearSession))
	r.Handle("/visit/api/v1/session/location", methodOnly(http.MethodPost, v.ResolveLocation))

	r.Handle("/visit/api/v1/autosave", methodOnly(http.MethodPost, v.Autosave))

	r.Handle("/visit/api/v1/deliveries", methodOnly(http.MethodPost, v.SubmitDelivery))

	r.Handle("/visit/api/v1/history", methodOnly(http.MethodGet, v.History))
	r.Handle("/visit/api/v1/history/export", methodOnly(http.MethodGet, v.HistoryExport))

	r.Handle("/visit/api/v1/health", methodOnly(http.MethodGet, v.Health))
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}
