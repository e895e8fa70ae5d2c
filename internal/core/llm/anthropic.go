package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const (
	providerAnthropic = "anthropic"

	contentTypeText = "text"
)

// anthropicProvider is the secondary chat provider. It has no embedding
// endpoint; Embed reports ErrEmbeddingsUnsupported so the chain moves on.
type anthropicProvider struct {
	client anthropic.Client
	model  string
	logger *zerolog.Logger
}

func newAnthropicProvider(apiKey, model string, logger *zerolog.Logger) *anthropicProvider {
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}
}

func (p *anthropicProvider) Name() string  { return providerAnthropic }
func (p *anthropicProvider) Model() string { return p.model }
func (p *anthropicProvider) Priority() int { return PrioritySecondary }

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}

	var out strings.Builder

	for _, block := range resp.Content {
		if block.Type == contentTypeText {
			out.WriteString(block.Text)
		}
	}

	return strings.TrimSpace(out.String()), nil
}

func (p *anthropicProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrEmbeddingsUnsupported
}

var _ Provider = (*anthropicProvider)(nil)
