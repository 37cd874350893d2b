package config

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/gtoxlili/echoGuard/entity"
)

// KV system_config 表的读写能力
type KV interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
}

type persistedField struct {
	key string
	ptr func(*entity.RiskPolicy) *float64
	// zeroOK 为真时 0 表示关闭该限制
	zeroOK bool
}

var persistedFields = []persistedField{
	{KeyAccountStopLossUsdt, func(p *entity.RiskPolicy) *float64 { return &p.AccountStopLossUsdt }, true},
	{KeyAccountTakeProfitUsdt, func(p *entity.RiskPolicy) *float64 { return &p.AccountTakeProfitUsdt }, true},
	{KeyMaxDrawdownPercent, func(p *entity.RiskPolicy) *float64 { return &p.AccountMaxDrawdownPercent }, false},
}

// SyncRiskPolicy 启动时对齐风控参数。
// SyncOnStartup 为真时以进程配置为准写入 system_config；否则已存储的值覆盖进程配置，缺失的键补写。
func SyncRiskPolicy(ctx context.Context, kv KV, policy *entity.RiskPolicy) error {
	for _, f := range persistedFields {
		field := f.ptr(policy)

		if !policy.SyncOnStartup {
			stored, ok, err := kv.GetConfig(ctx, f.key)
			if err != nil {
				return fmt.Errorf("config.SyncRiskPolicy: get %s: %w", f.key, err)
			}
			if ok {
				v, err := strconv.ParseFloat(stored, 64)
				if err == nil && (v > 0 || (v == 0 && f.zeroOK)) && !math.IsInf(v, 0) {
					if v != *field {
						slog.Info("risk policy loaded from store", "key", f.key, "stored", v, "configured", *field)
					}
					*field = v
					continue
				}
				slog.Warn("ignoring malformed stored risk value", "key", f.key, "value", stored)
			}
		}

		if err := kv.SetConfig(ctx, f.key, strconv.FormatFloat(*field, 'f', -1, 64)); err != nil {
			return fmt.Errorf("config.SyncRiskPolicy: set %s: %w", f.key, err)
		}
	}
	return nil
}
