// Package genai provides LLM-generated conversational replies using the
// OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultRequestTimeout bounds each completion call.
const DefaultRequestTimeout = 30 * time.Second

// DefaultSystemPrompt is the clinic receptionist persona used when no prompt
// override is configured. Kept in Portuguese: it is what the end customer
// indirectly interacts with.
const DefaultSystemPrompt = `Você é a assistente virtual de uma clínica odontológica.
Seu objetivo é atender clientes de forma acolhedora e profissional.

COLETE ESSAS INFORMAÇÕES (uma por vez, naturalmente):
1. Nome do cliente
2. Tratamento de interesse (implantes, lentes, clareamento, aparelho ou outros)
3. Se sente dor ou desconforto
4. Horário preferido (manhã 8h-12h, tarde 13h-17h, noite 18h-20h)

REGRAS:
- Seja natural e empático, UMA pergunta por vez
- Use emojis com moderação
- Quando tiver nome + tratamento + horário, confirme os dados e diga que a equipe entrará em contato
- Nunca diga que é uma IA
- Responda SEMPRE em português`

// Error variables for better error handling and testability.
var (
	ErrAPIKeyNotSet      = errors.New("OpenAI API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyReply        = errors.New("model returned an empty reply")
)

// chatService defines the minimal interface for chat completions. Tests
// substitute a mock.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChatService adapts the real OpenAI client to chatService.
type openAIChatService struct {
	client openai.Client
}

func (s *openAIChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	Model        openai.ChatModel
	SystemPrompt string
	Timeout      time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSystemPrompt overrides the receptionist system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI chat completion service for generating lead replies.
type Client struct {
	chat         chatService
	model        openai.ChatModel
	systemPrompt string
	timeout      time.Duration
}

// NewClient initializes a new GenAI client from the provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:         &openAIChatService{client: cli},
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
	}, nil
}

// GenerateReply generates a conversational reply to the latest inbound text,
// given a bounded, chronologically ordered slice of prior messages. The reply
// is guaranteed non-empty on success; callers substitute a static fallback on
// error.
func (c *Client) GenerateReply(ctx context.Context, latest string, history []models.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(c.systemPrompt))
	for _, msg := range history {
		switch msg.From {
		case models.SenderClient:
			messages = append(messages, openai.UserMessage(msg.Text))
		case models.SenderBot, models.SenderTeam:
			// Operator messages speak for the clinic, same as the bot.
			messages = append(messages, openai.AssistantMessage(msg.Text))
		}
	}
	messages = append(messages, openai.UserMessage(latest))

	slog.Debug("genai.GenerateReply: requesting completion", "history_count", len(history), "model", c.model)
	resp, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("genai.GenerateReply: completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("genai.GenerateReply: no choices returned")
		return "", ErrNoChoicesReturned
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		slog.Error("genai.GenerateReply: empty reply content")
		return "", ErrEmptyReply
	}

	slog.Debug("genai.GenerateReply: completion received", "reply_length", len(reply))
	return reply, nil
}
