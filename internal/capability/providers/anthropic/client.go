// Package anthropic adapts the Anthropic SDK to the capability.LLMClient
// interface, in the style of the teacher's internal/llm/anthropic client:
// messages are translated 1:1, usage is read off the response and logged
// with a mission-scoped logger.
package anthropic

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/logging"
)

// PricePerMillion gives a rough USD cost for a model's input/output tokens;
// used only to populate Usage.CostUSD for telemetry, not for billing.
type PricePerMillion struct {
	Input  float64
	Output float64
}

// Client implements capability.LLMClient against a single Anthropic model.
// One Client is constructed per configured role/model pair.
type Client struct {
	sdk    anthropicsdk.Client
	model  string
	prices PricePerMillion
}

func New(apiKey, model string, prices PricePerMillion) *Client {
	return &Client{
		sdk:    anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		prices: prices,
	}
}

func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	log := logging.WithTrace(ctx)

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if sys := systemPrompt(req.Messages); sys != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: sys}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Msg("anthropic: completion failed")
		return capability.CompletionResponse{}, fmt.Errorf("anthropic complete: %w", err)
	}

	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	usage := capability.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		NativeTokens:     resp.Usage.InputTokens + resp.Usage.OutputTokens,
		CostUSD:          c.cost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}

	return capability.CompletionResponse{
		Message: capability.Message{Role: "assistant", Content: text},
		Usage:   usage,
		Model:   c.model,
	}, nil
}

func (c *Client) Stream(ctx context.Context, req capability.CompletionRequest, handler capability.StreamHandler) error {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		handler.OnError(err)
		return err
	}
	handler.OnToken(resp.Message.Content)
	handler.OnDone(resp)
	return nil
}

func (c *Client) cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1_000_000*c.prices.Input + float64(outputTokens)/1_000_000*c.prices.Output
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func systemPrompt(msgs []capability.Message) string {
	for _, m := range msgs {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

func toAnthropicMessages(msgs []capability.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		role := anthropicsdk.MessageParamRoleUser
		if m.Role == "assistant" {
			role = anthropicsdk.MessageParamRoleAssistant
		}
		out = append(out, anthropicsdk.MessageParam{
			Role:    role,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(m.Content)},
		})
	}
	return out
}
