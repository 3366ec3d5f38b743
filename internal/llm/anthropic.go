package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

type anthropicGenerator struct {
	client anthropic.Client
	model  string
}

func NewAnthropicGenerator(apiKey, endpoint, model string) Generator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicGenerator{client: anthropic.NewClient(opts...), model: model}
}

func (g *anthropicGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	stream := g.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	start := time.Now()
	accum := anthropic.Message{}
	for stream.Next() {
		evt := stream.Current()
		if err := accum.Accumulate(evt); err != nil {
			return fmt.Errorf("anthropic accumulate: %w", err)
		}
		switch evt.Type {
		case "content_block_delta":
			if evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
				continue
			}
			if err := consumer(Chunk{
				SessionID: req.SessionID,
				Content:   evt.Delta.Text,
				Partial:   true,
				Latency:   time.Since(start),
			}); err != nil {
				return err
			}
		case "message_stop":
			return consumer(Chunk{
				SessionID:        req.SessionID,
				Partial:          false,
				PromptTokens:     int(accum.Usage.InputTokens),
				CompletionTokens: int(accum.Usage.OutputTokens),
				Latency:          time.Since(start),
			})
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return nil
}
