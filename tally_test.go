package tally

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/internal/config"
	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/stages"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := New(WithMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func startInput() map[string]any {
	return map[string]any{
		stages.KeyDeliverables: []stages.Deliverable{
			{Name: "要件定義書", Description: "システム要件のドキュメント作成"},
			{Name: "API開発", Description: "バックエンドAPIサーバーの実装"},
		},
		stages.KeyRequirements: "社内向けの在庫管理システム。管理画面とAPI連携を含む。",
	}
}

func TestApp_EndToEnd(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	res, err := app.Start(ctx, startInput())
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	require.True(t, res.Awaiting())

	supplied := map[string]any{}
	switch res.AwaitingStage {
	case stages.StageAnswers:
		supplied[domain.KeyAnswers] = map[string]any{}
		res, err = app.Resume(ctx, res.SessionID, supplied)
		require.NoError(t, err)
		require.Equal(t, stages.StageApproval, res.AwaitingStage)
	case stages.StageApproval:
	default:
		t.Fatalf("unexpected suspension at %s", res.AwaitingStage)
	}

	res, err = app.Resume(ctx, res.SessionID, map[string]any{domain.KeyApproved: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)

	history, err := app.History(ctx, res.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, history)

	status, err := app.Status(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, status.Status)

	ids, err := app.Sessions(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, res.SessionID)

	require.NoError(t, app.Purge(ctx, res.SessionID))
	_, err = app.Status(ctx, res.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestApp_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DailyRate = -1
	_, err := New(WithConfig(cfg))
	assert.Error(t, err)
}

func TestApp_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "carrier-pigeon"
	_, err := New(WithConfig(cfg))
	assert.Error(t, err)
}
