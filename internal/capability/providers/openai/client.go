// Package openai adapts the openai-go SDK to capability.LLMClient and
// capability.EmbeddingClient, following the same thin-adapter shape as the
// anthropic provider.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/logging"
)

type PricePerMillion struct {
	Input  float64
	Output float64
}

// Client implements capability.LLMClient and capability.EmbeddingClient
// against a single OpenAI chat model / embedding model pair.
type Client struct {
	sdk            openai.Client
	model          string
	embeddingModel string
	denseDim       int
	prices         PricePerMillion
}

func New(apiKey, model, embeddingModel string, denseDim int, prices PricePerMillion) *Client {
	return &Client{
		sdk:            openai.NewClient(option.WithAPIKey(apiKey)),
		model:          model,
		embeddingModel: embeddingModel,
		denseDim:       denseDim,
		prices:         prices,
	}
}

func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	log := logging.WithTrace(ctx)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Msg("openai: completion failed")
		return capability.CompletionResponse{}, fmt.Errorf("openai complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return capability.CompletionResponse{}, fmt.Errorf("openai complete: empty choices")
	}

	usage := capability.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		NativeTokens:     resp.Usage.TotalTokens,
		CostUSD:          c.cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}

	return capability.CompletionResponse{
		Message: capability.Message{Role: "assistant", Content: resp.Choices[0].Message.Content},
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

func (c *Client) cost(promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)/1_000_000*c.prices.Input + float64(completionTokens)/1_000_000*c.prices.Output
}

// Embed implements capability.EmbeddingClient using OpenAI's embeddings
// endpoint for the dense channel; sparse embeddings are not produced by this
// provider (callers requesting WantSparse get an empty Sparse map per item).
func (c *Client) Embed(ctx context.Context, req capability.EmbeddingRequest) (capability.EmbeddingResponse, error) {
	if !req.WantDense {
		return capability.EmbeddingResponse{}, nil
	}

	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Texts},
	})
	if err != nil {
		return capability.EmbeddingResponse{}, fmt.Errorf("openai embed: %w", err)
	}

	out := make([]capability.Embedding, len(resp.Data))
	for i, d := range resp.Data {
		dense := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			dense[j] = float32(v)
		}
		out[i] = capability.Embedding{Index: i, Dense: dense}
	}

	return capability.EmbeddingResponse{
		Embeddings: out,
		Usage: capability.Usage{
			PromptTokens: resp.Usage.PromptTokens,
			NativeTokens: resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) DenseDimension() int {
	return c.denseDim
}
