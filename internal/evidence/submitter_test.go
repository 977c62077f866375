package evidence_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/evidence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend 模拟 RIDS 后端 + 云上传端点
type fakeBackend struct {
	srv        *httptest.Server
	created    atomic.Int64
	uploads    atomic.Int64
	confirms   atomic.Int64
	lastVector atomic.Value
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}

	mux := http.NewServeMux()
	mux.HandleFunc("/entregas", func(w http.ResponseWriter, r *http.Request) {
		b.created.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"entrega": map[string]any{"id_entrega": 101},
		})
	})
	mux.HandleFunc("/entregas/101/evidencias/firma", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tipo string `json:"tipo"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		if body.Tipo == "firma" {
			// 签名不走云上传，直接以向量确认
			_ = json.NewEncoder(w).Encode(map[string]any{"requiresUpload": false})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cloudName": "rids-test",
			"uploadUrl": b.srv.URL + "/upload",
			"apiKey":    "k",
			"timestamp": 1767051000,
			"signature": "sig",
			"publicId":  "pid-1",
		})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		b.uploads.Add(1)
		require.NoError(t, r.ParseMultipartForm(10<<20))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"secure_url": "https://cdn.test/foto-101.jpg",
			"public_id":  "pid-1",
			"bytes":      1234,
		})
	})
	mux.HandleFunc("/entregas/101/evidencias/confirmar", func(w http.ResponseWriter, r *http.Request) {
		b.confirms.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if v, ok := body["vector"].(string); ok {
			b.lastVector.Store(v)
		}
		w.WriteHeader(http.StatusOK)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func submitterConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Backend.BaseURL = baseURL
	cfg.Evidence.FingerprintKey = "rids.test.fingerprints"
	cfg.Evidence.Capacity = 50
	return cfg
}

func deliveryRequest() evidence.DeliveryRequest {
	return evidence.DeliveryRequest{
		CompanyName:  "ACME Ltda",
		ReceiverName: "Juan Pérez",
		Date:         time.Date(2026, 8, 12, 15, 30, 0, 0, time.UTC),
		Photo:        []byte("small-enough-jpeg-payload"),
		PhotoInfo: evidence.FileInfo{
			Name:         "entrega.jpg",
			Size:         25,
			LastModified: 1767051000000,
			MediaType:    "image/jpeg",
		},
		SignaturePNG: []byte("png-signature-bytes"),
	}
}

func TestSubmitter_EndToEnd(t *testing.T) {
	backend := newFakeBackend(t)
	cfg := submitterConfig(backend.srv.URL)

	kv := newFakeKV()
	guard := evidence.NewGuard(cfg, kv, zap.NewNop())
	sub := evidence.NewSubmitter(cfg, guard, zap.NewNop())

	res, err := sub.Submit(context.Background(), deliveryRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(101), res.DeliveryID)
	assert.Len(t, res.Fingerprint, 8)
	assert.Equal(t, int64(1), backend.created.Load())
	assert.Equal(t, int64(1), backend.uploads.Load(), "only the photo goes through cloud upload")
	assert.Equal(t, int64(2), backend.confirms.Load(), "photo and signature both confirmed")

	vector, _ := backend.lastVector.Load().(string)
	assert.Contains(t, vector, "data:image/png;base64,")

	assert.True(t, guard.IsDuplicate(res.Fingerprint))
}

func TestSubmitter_SecondSubmitIsDuplicate(t *testing.T) {
	backend := newFakeBackend(t)
	cfg := submitterConfig(backend.srv.URL)

	kv := newFakeKV()
	guard := evidence.NewGuard(cfg, kv, zap.NewNop())
	sub := evidence.NewSubmitter(cfg, guard, zap.NewNop())

	_, err := sub.Submit(context.Background(), deliveryRequest())
	require.NoError(t, err)

	// 同一份证据重提：本地就挡下，不再打后端
	_, err = sub.Submit(context.Background(), deliveryRequest())
	assert.ErrorIs(t, err, evidence.ErrDuplicateDelivery)
	assert.Equal(t, int64(1), backend.created.Load())

	// 只改收件人 → 新指纹，允许提交
	other := deliveryRequest()
	other.ReceiverName = "María Soto"
	_, err = sub.Submit(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), backend.created.Load())
}

func TestSubmitter_IncompleteRequestRejected(t *testing.T) {
	backend := newFakeBackend(t)
	cfg := submitterConfig(backend.srv.URL)

	kv := newFakeKV()
	guard := evidence.NewGuard(cfg, kv, zap.NewNop())
	sub := evidence.NewSubmitter(cfg, guard, zap.NewNop())

	req := deliveryRequest()
	req.SignaturePNG = nil

	_, err := sub.Submit(context.Background(), req)
	assert.ErrorIs(t, err, evidence.ErrIncompleteDelivery)
	assert.Equal(t, int64(0), backend.created.Load())
}
