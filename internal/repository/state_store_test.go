package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/pkg/cache"
)

func TestStateStorePositions(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCacheStateStore(mc, time.Hour)

	t0 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SavePosition(ctx, &models.Position{ID: "b", Symbol: "GBPUSD", OpenedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.SavePosition(ctx, &models.Position{ID: "a", Symbol: "EURUSD", OpenedAt: t0, Attribution: map[string]float64{"trend": 1}}))

	got, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, map[string]float64{"trend": 1}, got[0].Attribution)

	require.NoError(t, s.DeletePosition(ctx, "a"))
	got, err = s.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestStateStoreOrdersAndSnapshots(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCacheStateStore(mc, time.Hour)

	o, err := s.GetOrder(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, o)
	require.NoError(t, s.SaveOrder(ctx, &models.Order{ID: "o1", Status: models.OrderFilled}))
	o, err = s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, o.Status)

	states, err := s.LoadPodStates(ctx)
	require.NoError(t, err)
	assert.Nil(t, states)
	require.NoError(t, s.SavePodStates(ctx, []models.PodState{{Name: "trend", Weight: 0.5}}))
	states, err = s.LoadPodStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, states[0].Weight)

	cfg, err := s.LoadRiskConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	require.NoError(t, s.SaveRiskConfig(ctx, models.RiskConfig{MaxPositions: 7, MaxHoldingPeriod: time.Hour}))
	cfg, err = s.LoadRiskConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxPositions)
	assert.Equal(t, time.Hour, cfg.MaxHoldingPeriod)
}

func TestStateStoreOnRedis(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	s := NewCacheStateStore(cache.NewRedisCacheFromClient(db, "alphadesk"), 0)

	pos, err := json.Marshal(models.Position{ID: "p1", Symbol: "EURUSD", Size: 1000})
	require.NoError(t, err)
	mock.ExpectScan(0, "alphadesk:position:*", 200).SetVal([]string{"alphadesk:position:p1"}, 0)
	mock.ExpectMGet("alphadesk:position:p1").SetVal([]interface{}{string(pos)})
	mock.ExpectGet("alphadesk:risk_config").RedisNil()
	mock.ExpectGet("alphadesk:pod_states").SetVal(`[{"name":"trend","weight":0.4}]`)

	got, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1000.0, got[0].Size)

	cfg, err := s.LoadRiskConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	states, err := s.LoadPodStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "trend", states[0].Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}
