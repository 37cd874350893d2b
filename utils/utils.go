package utils

import (
	"fmt"
	"math"
	"unsafe"

	json "github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"
	"github.com/samber/lo"
)

// ParseResult 修复并解析模型返回的 JSON
func ParseResult[T any](content string) (T, error) {
	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return lo.Empty[T](), fmt.Errorf("failed to repair JSON: %w", err)
	}

	var result T
	if err := json.Unmarshal(unsafe.Slice(unsafe.StringData(repaired), len(repaired)), &result); err != nil {
		return lo.Empty[T](), fmt.Errorf("failed to parse analysis result: %w", err)
	}
	return result, nil
}

func Avg(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return lo.Sum(data) / float64(len(data))
}

func StdDev(data []float64) float64 {
	// 至少需要2个点才能计算标准差
	if len(data) < 2 {
		return 0.0
	}

	mean := Avg(data)
	sumOfSquares := 0.0
	for _, val := range data {
		sumOfSquares += math.Pow(val-mean, 2)
	}

	// 使用样本标准差 (n-1)
	variance := sumOfSquares / float64(len(data)-1)
	return math.Sqrt(variance)
}

// SharpeRatio 基于相邻净值的收益率，无风险利率按 0 计
func SharpeRatio(values []float64) float64 {
	returns := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			returns = append(returns, (values[i]-values[i-1])/values[i-1])
		}
	}
	if len(returns) < 2 {
		return 0
	}

	avg := Avg(returns)
	sd := StdDev(returns)
	if sd == 0 {
		// 无波动但有收益
		if avg > 0 {
			return 10
		}
		return 0
	}
	return FiniteOr(avg/sd, 0)
}

// FiniteOr 将 NaN/Inf 替换为默认值
func FiniteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
