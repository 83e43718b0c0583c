package classify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/punchamoorthee/docledger/internal/domain"
)

const (
	DefaultModel       = "gpt-4.1-mini"
	DefaultTemperature = 0.2
	DefaultTimeout     = 60 * time.Second
)

// OpenAIConfig configures the chat-completion backed classifier.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClassifier sends extracted text to a chat-completion model and parses
// the JSON object it returns. It does not retry.
type OpenAIClassifier struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIClassifier(cfg OpenAIConfig) *OpenAIClassifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}
}

// Classify returns a validated Classification or an error. Malformed answers
// wrap ErrMalformedResult.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (domain.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: DefaultTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return domain.Classification{}, eris.Wrap(err, "classify: chat completion")
	}
	if len(resp.Choices) == 0 {
		return domain.Classification{}, eris.Wrap(ErrMalformedResult, "classify: no choices")
	}
	return Parse(resp.Choices[0].Message.Content)
}

// StaticClassifier answers every call with the same classification. It backs
// local runs and load tests where no model is reachable.
type StaticClassifier struct {
	Result domain.Classification
}

// NewStaticClassifier returns a StaticClassifier with a neutral answer.
func NewStaticClassifier() *StaticClassifier {
	return &StaticClassifier{Result: domain.Classification{
		Category:    "altro",
		Risk:        "basso",
		Summary:     "Documento ricevuto.",
		Explanation: "Analisi automatica non configurata.",
		Action:      "Nessuna azione richiesta.",
	}}
}

func (s *StaticClassifier) Classify(_ context.Context, _ string) (domain.Classification, error) {
	if err := Validate(s.Result); err != nil {
		return domain.Classification{}, err
	}
	return s.Result, nil
}
