package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// Provider names and the OpenAI-compatible base URLs. XAI and DeepSeek
// speak the OpenAI chat API, so one implementation covers the whole
// compatible tier, the same way the free fallback endpoint does.
const (
	providerOpenAI   = "openai"
	providerXAI      = "xai"
	providerDeepSeek = "deepseek"
	providerFree     = "free_fallback"

	xaiBaseURL      = "https://api.x.ai/v1"
	deepSeekBaseURL = "https://api.deepseek.com/v1"

	defaultMaxTokens = 2048
)

// openAICompat is a chat provider speaking the OpenAI API, optionally with
// a non-default base URL and an embedding model.
type openAICompat struct {
	name           string
	client         *openai.Client
	model          string
	embeddingModel string
	priority       int
	logger         *zerolog.Logger
}

func newOpenAICompat(name, apiKey, baseURL, model, embeddingModel string, priority int, logger *zerolog.Logger) *openAICompat {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	return &openAICompat{
		name:           name,
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		priority:       priority,
		logger:         logger,
	}
}

func (p *openAICompat) Name() string  { return p.name }
func (p *openAICompat) Model() string { return p.model }
func (p *openAICompat) Priority() int { return p.priority }

func (p *openAICompat) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}

	return resp.Choices[0].Message.Content, nil
}

func (p *openAICompat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.embeddingModel == "" {
		return nil, ErrEmbeddingsUnsupported
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", p.name, err)
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}

	return vecs, nil
}

var _ Provider = (*openAICompat)(nil)
