package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
)

func TestSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTCUSDT", toPair("btc"))
	assert.Equal(t, "ETH", fromPair("ETHUSDT"))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection reset by peer"), true},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), false},
		{"rate limited", &common.APIError{Code: -1003, Message: "too many requests"}, true},
		{"timestamp drift", fmt.Errorf("exchange.GetAccount: %w", &common.APIError{Code: -1021}), true},
		{"insufficient margin", &common.APIError{Code: -2019, Message: "Margin is insufficient."}, false},
		{"unknown symbol", ErrUnknownSymbol, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestMapOrderErr(t *testing.T) {
	err := mapOrderErr(&common.APIError{Code: -2013, Message: "Order does not exist."})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	other := errors.New("boom")
	assert.Equal(t, other, mapOrderErr(other))
}
