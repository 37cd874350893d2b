package llm

import (
	"strings"

	"github.com/gtoxlili/echoGuard/config"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// resolveClient 构造 OpenAI 兼容客户端；未配置 BaseURL 时 gpt- 系列走官方端点，其余走 DeepSeek
func resolveClient(cfg config.OracleConfig) openai.Client {
	baseURL := cfg.BaseURL
	if baseURL == "" && !strings.HasPrefix(cfg.Model, "gpt-") {
		baseURL = config.DefaultOracleBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// 超时由调用方的 context 控制，失败后等下一个周期
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}
