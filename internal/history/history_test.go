package history_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/RIDSdiseno/RidsMovilFront/internal/config"
	"github.com/RIDSdiseno/RidsMovilFront/internal/history"
	"github.com/RIDSdiseno/RidsMovilFront/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func historyConfig() *config.Config {
	cfg := &config.Config{}
	cfg.History.StorageKey = "visitas_registro"
	return cfg
}

func completedVisit(companyID int64) session.VisitSession {
	started := time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC)
	ended := started.Add(95 * time.Minute)
	return session.VisitSession{
		CompanyID:  companyID,
		ClientID:   42,
		Requesters: []string{"Carla Núñez"},
		Checklist:  map[string]bool{"impresoras": true, "servidores": false},
		FormDraft:  map[string]string{"notas": "todo OK"},
		Location:   &session.Location{Latitude: -33.44, Longitude: -70.63, Label: "Providencia"},
		StartedAt:  &started,
		EndedAt:    &ended,
		Status:     session.StatusCompleted,
	}
}

func TestLog_AppendAndList(t *testing.T) {
	kv := newFakeKV()
	log := history.NewLog(historyConfig(), kv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "jperez", completedVisit(7)))
	require.NoError(t, log.Append(ctx, "jperez", completedVisit(9)))
	require.NoError(t, log.Append(ctx, "msoto", completedVisit(11)))

	entries := log.List(ctx, "jperez")
	require.Len(t, entries, 2)
	assert.Equal(t, int64(7), entries[0].Visit.CompanyID)
	assert.Equal(t, int64(9), entries[1].Visit.CompanyID)
	assert.True(t, entries[0].Visit.Checklist["impresoras"])

	assert.ElementsMatch(t, []string{"jperez", "msoto"}, log.Technicians(ctx))
	assert.Empty(t, log.List(ctx, "nadie"))
}

func TestLog_SurvivesReload(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()

	log := history.NewLog(historyConfig(), kv, zap.NewNop())
	require.NoError(t, log.Append(ctx, "jperez", completedVisit(7)))

	// "重启"后登记表仍在
	log2 := history.NewLog(historyConfig(), kv, zap.NewNop())
	entries := log2.List(ctx, "jperez")
	require.Len(t, entries, 1)
	assert.Equal(t, session.StatusCompleted, entries[0].Visit.Status)
	assert.Equal(t, "Providencia", entries[0].Visit.Location.Label)
}

func TestLog_CorruptRegistryStartsEmpty(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "visitas_registro", "{not json"))

	log := history.NewLog(historyConfig(), kv, zap.NewNop())
	assert.Empty(t, log.List(ctx, "jperez"))

	// 追加会覆盖损坏内容
	require.NoError(t, log.Append(ctx, "jperez", completedVisit(7)))
	assert.Len(t, log.List(ctx, "jperez"), 1)
}

func TestLog_ExportXLSX(t *testing.T) {
	kv := newFakeKV()
	log := history.NewLog(historyConfig(), kv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "jperez", completedVisit(7)))
	require.NoError(t, log.Append(ctx, "msoto", completedVisit(11)))

	data, err := log.ExportXLSX(ctx, "")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Visitas")
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per visit")

	assert.Equal(t, "Technician", rows[0][0])
	assert.Equal(t, "jperez", rows[1][0])
	assert.Equal(t, "7", rows[1][1])
	assert.Equal(t, "completada", rows[1][3])
	assert.Equal(t, "01:35", rows[1][6])
	assert.Equal(t, "Providencia", rows[1][7])
	assert.Equal(t, "impresoras", rows[1][8], "only checked items are listed")
	assert.Equal(t, "msoto", rows[2][0])
}

func TestLog_ExportXLSXFiltersByTechnician(t *testing.T) {
	kv := newFakeKV()
	log := history.NewLog(historyConfig(), kv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "jperez", completedVisit(7)))
	require.NoError(t, log.Append(ctx, "msoto", completedVisit(11)))

	data, err := log.ExportXLSX(ctx, "msoto")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Visitas")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "msoto", rows[1][0])
}
