package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gtoxlili/echoGuard/config"
	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/prompts"
	"github.com/gtoxlili/echoGuard/utils"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"
	"github.com/samber/lo"
)

var ErrEmptyCompletion = errors.New("completion has no choices")

// Agent 基于 OpenAI 兼容接口的决策源
type Agent struct {
	client       openai.Client
	model        string
	temperature  float64
	timeout      time.Duration
	systemPrompt string
}

func NewAgent(cfg config.OracleConfig, params prompts.SystemParams) *Agent {
	params.Model = cfg.Model
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultOracleTimeout
	}
	return &Agent{
		client:       resolveClient(cfg),
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		timeout:      timeout,
		systemPrompt: prompts.BuildSystemPrompt(params),
	}
}

// Decide 单次调用，超时即失败，不重试
func (a *Agent) Decide(ctx context.Context, data entity.PromptData) (entity.AgentDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	param := openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(a.systemPrompt),
			openai.UserMessage(prompts.BuildUserPrompt(data)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: lo.ToPtr(shared.NewResponseFormatJSONObjectParam()),
		},
	}
	if a.temperature > 0 {
		param.Temperature = openai.Float(a.temperature)
	}

	start := time.Now()
	completion, err := a.client.Chat.Completions.New(ctx, param)
	if err != nil {
		return lo.Empty[entity.AgentDecision](), fmt.Errorf("llm.Decide: failed to get completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return lo.Empty[entity.AgentDecision](), fmt.Errorf("llm.Decide: %w", ErrEmptyCompletion)
	}
	slog.Debug("oracle responded", "model", a.model, "elapsed", time.Since(start),
		"prompt_tokens", completion.Usage.PromptTokens, "completion_tokens", completion.Usage.CompletionTokens)

	decision, err := utils.ParseResult[entity.AgentDecision](completion.Choices[0].Message.Content)
	if err != nil {
		return lo.Empty[entity.AgentDecision](), fmt.Errorf("llm.Decide: failed to parse completion: %w", err)
	}
	return decision, nil
}
