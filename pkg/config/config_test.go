package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
symbols: [EURUSD]
source:
  type: none
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "paper", c.Execution.Mode)
	assert.Equal(t, 5, c.Risk.MaxPositions)
	assert.Equal(t, 24*time.Hour, c.Risk.MaxHoldingPeriod)
	assert.Equal(t, time.Friday, c.Risk.WeekendStartDay)
	assert.Equal(t, 22, c.Risk.WeekendStartHour)
	assert.Equal(t, "historical", c.Risk.VaRMethod)
	assert.Equal(t, 0.2, c.Risk.MaxDrawdown)
	assert.Equal(t, "wss://ws.finnhub.io", c.Finnhub.WebSocketURL)
	assert.Equal(t, 5*time.Second, c.Finnhub.ReconnectDelay)
	assert.Empty(t, c.Finnhub.APIKey)
	assert.Equal(t, "@daily", c.Scheduler.Reweight)
	assert.True(t, c.Alpha.VolatilityAdjustment)
	assert.Len(t, c.EnabledPods(), 3)
}

func TestParsePodDefaultsKeepExplicitFalse(t *testing.T) {
	c, err := Parse([]byte(minimal + `
alpha:
  pods:
    - {name: a, kind: trend}
    - {name: b, kind: mean_reversion, enabled: false}
    - {name: c, kind: volatility_regime, warmup_bars: 5}
`))
	require.NoError(t, err)
	require.Len(t, c.Alpha.Pods, 3)
	assert.True(t, c.Alpha.Pods[0].Enabled)
	assert.Equal(t, 50, c.Alpha.Pods[0].WarmupBars)
	assert.False(t, c.Alpha.Pods[1].Enabled)
	assert.Equal(t, 5, c.Alpha.Pods[2].WarmupBars)
	assert.Len(t, c.EnabledPods(), 2)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no symbols":       "source: {type: none}",
		"bad mode":         minimal + "execution: {mode: demo}",
		"bad risk bound":   minimal + "risk: {max_kelly_size: 1.5}",
		"kafka no brokers": "symbols: [EURUSD]",
		"infeasible weights": minimal + `
alpha:
  allocator: {min_pod_weight: 0.5, max_pod_weight: 0.6}`,
		"unknown pod kind": minimal + `
alpha:
  pods: [{name: x, kind: astrology}]`,
		"duplicate pod": minimal + `
alpha:
  pods: [{name: x, kind: trend}, {name: x, kind: trend}]`,
		"model pod without url": minimal + `
alpha:
  pods: [{name: m, kind: model}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestValidateAllocator(t *testing.T) {
	a := AllocatorConfig{MinPodWeight: 0.1, MaxPodWeight: 0.5}
	assert.NoError(t, ValidateAllocator(a, 3))
	assert.Error(t, ValidateAllocator(a, 1), "one pod cannot reach weight 1 under a 0.5 cap")
	assert.Error(t, ValidateAllocator(a, 11), "eleven pods overflow the floor")
	assert.Error(t, ValidateAllocator(a, 0))
	assert.Error(t, ValidateAllocator(AllocatorConfig{MinPodWeight: 0.6, MaxPodWeight: 0.5}, 2))
}

func TestLoadWithEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	t.Setenv("SYMBOLS", "EURUSD,USDJPY")
	t.Setenv("REDIS_PORT", "6380")
	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "USDJPY"}, c.Symbols)
	assert.Equal(t, 6380, c.Redis.Port)

	t.Setenv("EXECUTION_MODE", "demo")
	_, err = LoadWithEnv(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
