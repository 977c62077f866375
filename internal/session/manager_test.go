package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "visita_en_curso"

func testConfig(debounceMS int) *config.Config {
	cfg := &config.Config{}
	cfg.Session.StorageKey = testKey
	cfg.Session.DebounceMS = debounceMS
	return cfg
}

func TestManager_StartRejectsSecondStart(t *testing.T) {
	kv := newFakeKV()
	m := session.NewManager(testConfig(0), kv, zap.NewNop())
	ctx := context.Background()

	_, err := m.Start(ctx, 7, 42)
	require.NoError(t, err)
	assert.True(t, m.Active())

	// 未 Complete/Clear 之前不允许再次 Start
	_, err = m.Start(ctx, 8, 43)
	assert.ErrorIs(t, err, session.ErrSessionAlreadyActive)
}

func TestManager_UpdateAndCompleteRequireActiveSession(t *testing.T) {
	kv := newFakeKV()
	m := session.NewManager(testConfig(0), kv, zap.NewNop())
	ctx := context.Background()

	err := m.Update(session.Update{Checklist: map[string]bool{"impresoras": true}})
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	_, err = m.Complete(ctx)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
}

func TestManager_ResumeRoundTrip(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()

	m := session.NewManager(testConfig(0), kv, zap.NewNop())
	_, err := m.Start(ctx, 7, 42)
	require.NoError(t, err)

	require.NoError(t, m.Update(session.Update{
		Checklist:  map[string]bool{"impresoras": true, "telefonos": false},
		FormDraft:  map[string]string{"realizado": "revisión impresoras piso 3"},
		Requesters: []string{"contacto-11", "contacto-19"},
	}))
	require.NoError(t, m.Flush(ctx))

	// "重启"：同一存储上重新构造 Manager
	m2 := session.NewManager(testConfig(0), kv, zap.NewNop())
	assert.True(t, m2.Resumed())

	got := m2.Current()
	assert.Equal(t, session.StatusInProgress, got.Status)
	assert.Equal(t, int64(7), got.CompanyID)
	assert.Equal(t, int64(42), got.ClientID)
	assert.Equal(t, map[string]bool{"impresoras": true, "telefonos": false}, got.Checklist)
	assert.Equal(t, "revisión impresoras piso 3", got.FormDraft["realizado"])
	assert.Equal(t, []string{"contacto-11", "contacto-19"}, got.Requesters)
	require.NotNil(t, got.StartedAt)
}

func TestManager_DebounceCollapsesWrites(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()

	m := session.NewManager(testConfig(40), kv, zap.NewNop())
	_, err := m.Start(ctx, 7, 42)
	require.NoError(t, err)

	startWrites := kv.writeCount(testKey)

	// 防抖窗口内的三次修改只应该落盘一次，内容是最后的值
	require.NoError(t, m.Update(session.Update{Checklist: map[string]bool{"a": true}}))
	require.NoError(t, m.Update(session.Update{Checklist: map[string]bool{"a": false}}))
	require.NoError(t, m.Update(session.Update{Checklist: map[string]bool{"a": true}}))

	require.Eventually(t, func() bool {
		return kv.writeCount(testKey) == startWrites+1
	}, time.Second, 5*time.Millisecond)

	// 稍等确认没有第二次写
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, startWrites+1, kv.writeCount(testKey))

	m2 := session.NewManager(testConfig(0), kv, zap.NewNop())
	assert.True(t, m2.Current().Checklist["a"])
}

func TestManager_CompleteThenClear(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()

	m := session.NewManager(testConfig(0), kv, zap.NewNop())
	_, err := m.Start(ctx, 7, 42)
	require.NoError(t, err)

	require.NoError(t, m.Update(session.Update{Checklist: map[string]bool{"impresoras": true}}))

	snap, err := m.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, snap.Status)
	assert.True(t, snap.Checklist["impresoras"])
	require.NotNil(t, snap.EndedAt)

	// Completed 状态下不允许直接重新开始
	_, err = m.Start(ctx, 9, 1)
	assert.ErrorIs(t, err, session.ErrSessionAlreadyActive)

	require.NoError(t, m.Clear(ctx))
	assert.False(t, kv.has(testKey), "clear must erase the storage entry entirely")

	// Clear 之后可以从干净状态重新开始
	_, err = m.Start(ctx, 9, 1)
	require.NoError(t, err)
}

func TestManager_CorruptPayloadIsCleared(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, testKey, "{not json"))

	m := session.NewManager(testConfig(0), kv, zap.NewNop())
	assert.False(t, m.Resumed())
	assert.Equal(t, session.StatusNotStarted, m.Current().Status)
	assert.False(t, kv.has(testKey))
}

func TestManager_OldVersionEnvelopeIsCleared(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, testKey,
		`{"version":"0.9","savedAt":"2026-01-10T12:00:00Z","data":{"status":"en_curso"}}`))

	m := session.NewManager(testConfig(0), kv, zap.NewNop())
	assert.False(t, m.Resumed())
	assert.False(t, kv.has(testKey))
}

func TestManager_UpdateAfterCompleteRejected(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()

	m := session.NewManager(testConfig(0), kv, zap.NewNop())
	_, err := m.Start(ctx, 7, 42)
	require.NoError(t, err)
	_, err = m.Complete(ctx)
	require.NoError(t, err)

	err = m.Update(session.Update{FormDraft: map[string]string{"x": "y"}})
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
}

func TestManager_CurrentReturnsCopy(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()

	m := session.NewManager(testConfig(0), kv, zap.NewNop())
	_, err := m.Start(ctx, 7, 42)
	require.NoError(t, err)

	snap := m.Current()
	snap.Checklist["hacked"] = true

	assert.False(t, m.Current().Checklist["hacked"])
}
