package exchange

import (
	"context"
	"errors"

	"github.com/adshao/go-binance/v2/common"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrOrderNotFound = errors.New("order not found")
)

// 可重试的 Binance 错误码：断连、限频、超时、时间戳漂移、服务繁忙
var retryableCodes = map[int64]struct{}{
	-1000: {}, // UNKNOWN
	-1001: {}, // DISCONNECTED
	-1003: {}, // TOO_MANY_REQUESTS
	-1007: {}, // TIMEOUT
	-1008: {}, // SERVER_BUSY
	-1021: {}, // INVALID_TIMESTAMP
}

// IsRetryable 将错误分为瞬时（可重试）与确定性失败
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnknownSymbol) || errors.Is(err, ErrOrderNotFound) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		_, ok := retryableCodes[apiErr.Code]
		return ok
	}
	// 网络层错误、单次尝试超时
	return true
}
