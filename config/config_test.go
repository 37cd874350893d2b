package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeYAML(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, DefaultIntervalMinutes, cfg.Trading.IntervalMinutes)
	assert.Equal(t, DefaultMaxPositions, cfg.Risk.MaxPositions)
	assert.Equal(t, DefaultMaxLeverage, cfg.Risk.MaxLeverage)
	assert.Equal(t, 36.0, cfg.Risk.MaxHoldingHours)
	assert.Equal(t, entity.DrawdownFromPeak, cfg.Risk.DrawdownBasis)
	assert.Equal(t, DefaultSymbols, cfg.Risk.TradingSymbols)
	assert.Equal(t, DefaultOracleTimeout, cfg.OracleTimeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRADING_SYMBOLS", " btc,eth ,btc,")
	t.Setenv("MAX_LEVERAGE", "10")
	t.Setenv("ACCOUNT_STOP_LOSS_USDT", "75.5")
	t.Setenv("BINANCE_USE_TESTNET", "true")

	cfg, err := Load(writeYAML(t, "risk:\n  max_leverage: 12\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Risk.TradingSymbols)
	assert.Equal(t, 10, cfg.Risk.MaxLeverage)
	assert.Equal(t, 75.5, cfg.Risk.AccountStopLossUsdt)
	assert.True(t, cfg.Exchange.Testnet)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("MAX_POSITIONS", "many")
	_, err := Load(writeYAML(t, ""))
	assert.ErrorContains(t, err, "MAX_POSITIONS")
}

func TestValidate_RequiresCredentials(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange credentials")
	assert.Contains(t, err.Error(), "oracle api key")

	cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Oracle.APIKey = "k", "s", "o"
	assert.NoError(t, cfg.Validate())
}

type memKV map[string]string

func (m memKV) GetConfig(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memKV) SetConfig(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func TestSyncRiskPolicy_StoredValuesWin(t *testing.T) {
	kv := memKV{KeyAccountStopLossUsdt: "120"}
	policy := entity.RiskPolicy{AccountStopLossUsdt: 50, AccountTakeProfitUsdt: 10000, AccountMaxDrawdownPercent: 15}

	require.NoError(t, SyncRiskPolicy(context.Background(), kv, &policy))

	assert.Equal(t, 120.0, policy.AccountStopLossUsdt)
	// 缺失的键被补写
	assert.Equal(t, "10000", kv[KeyAccountTakeProfitUsdt])
	assert.Equal(t, "15", kv[KeyMaxDrawdownPercent])
}

func TestSyncRiskPolicy_SyncOnStartupOverwrites(t *testing.T) {
	kv := memKV{KeyAccountStopLossUsdt: "120"}
	policy := entity.RiskPolicy{AccountStopLossUsdt: 50, AccountTakeProfitUsdt: 10000, AccountMaxDrawdownPercent: 15, SyncOnStartup: true}

	require.NoError(t, SyncRiskPolicy(context.Background(), kv, &policy))

	assert.Equal(t, 50.0, policy.AccountStopLossUsdt)
	assert.Equal(t, "50", kv[KeyAccountStopLossUsdt])
}

func TestSyncRiskPolicy_StoredZeroIsKept(t *testing.T) {
	kv := memKV{KeyAccountStopLossUsdt: "0", KeyAccountTakeProfitUsdt: "-5", KeyMaxDrawdownPercent: "0"}
	policy := entity.RiskPolicy{AccountStopLossUsdt: 50, AccountTakeProfitUsdt: 10000, AccountMaxDrawdownPercent: 15}

	require.NoError(t, SyncRiskPolicy(context.Background(), kv, &policy))

	// 0 表示关闭账户止损，不应被进程配置覆盖
	assert.Zero(t, policy.AccountStopLossUsdt)
	assert.Equal(t, "0", kv[KeyAccountStopLossUsdt])
	// 负值仍视为损坏并以进程配置重写
	assert.Equal(t, 10000.0, policy.AccountTakeProfitUsdt)
	assert.Equal(t, "10000", kv[KeyAccountTakeProfitUsdt])
	// 回撤阈值为 0 会封死所有开仓，不接受
	assert.Equal(t, 15.0, policy.AccountMaxDrawdownPercent)
	assert.Equal(t, "15", kv[KeyMaxDrawdownPercent])
}
