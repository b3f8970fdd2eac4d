// Package google adapts Google's genai SDK to capability.LLMClient, used by
// default for the "verifier" role (spec §6 models.verifier).
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/maestro-research/maestro/internal/capability"
	"github.com/maestro-research/maestro/internal/logging"
)

type PricePerMillion struct {
	Input  float64
	Output float64
}

// Client implements capability.LLMClient against a single Gemini model.
type Client struct {
	sdk    *genai.Client
	model  string
	prices PricePerMillion
}

func New(ctx context.Context, apiKey, model string, prices PricePerMillion) (*Client, error) {
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("google genai client: %w", err)
	}
	return &Client{sdk: sdk, model: model, prices: prices}, nil
}

func (c *Client) Complete(ctx context.Context, req capability.CompletionRequest) (capability.CompletionResponse, error) {
	log := logging.WithTrace(ctx)

	contents := make([]*genai.Content, 0, len(req.Messages))
	var systemInstruction *genai.Content
	for _, m := range req.Messages {
		if m.Role == "system" {
			systemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != nil {
		cfg.SystemInstruction = systemInstruction
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Msg("google: generate content failed")
		return capability.CompletionResponse{}, fmt.Errorf("google complete: %w", err)
	}

	text := resp.Text()

	var promptTokens, completionTokens int64
	if resp.UsageMetadata != nil {
		promptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		completionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	return capability.CompletionResponse{
		Message: capability.Message{Role: "assistant", Content: text},
		Usage: capability.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			NativeTokens:     promptTokens + completionTokens,
			CostUSD:          float64(promptTokens)/1_000_000*c.prices.Input + float64(completionTokens)/1_000_000*c.prices.Output,
		},
		Model: c.model,
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
