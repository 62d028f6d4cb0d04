package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/openai/openai-go"
)

// mockChatService records the parameters it was called with and returns a
// canned completion or error.
type mockChatService struct {
	lastParams openai.ChatCompletionNewParams
	completion openai.ChatCompletion
	err        error
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.lastParams = params
	if m.err != nil {
		return openai.ChatCompletion{}, m.err
	}
	return m.completion, nil
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestClient(chat chatService) *Client {
	return &Client{
		chat:         chat,
		model:        openai.ChatModelGPT4oMini,
		systemPrompt: DefaultSystemPrompt,
		timeout:      DefaultRequestTimeout,
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(); !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
	if _, err := NewClient(WithAPIKey("sk-test")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGenerateReply(t *testing.T) {
	mock := &mockChatService{completion: completionWith("  Olá! Como posso ajudar? ")}
	client := newTestClient(mock)

	history := []models.Message{
		{From: models.SenderClient, Text: "oi"},
		{From: models.SenderBot, Text: "Olá! Qual o seu nome?"},
		{From: models.SenderTeam, Text: "Aqui é a Dra. Paula."},
	}
	reply, err := client.GenerateReply(context.Background(), "quero agendar", history)
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply != "Olá! Como posso ajudar?" {
		t.Errorf("reply not trimmed: %q", reply)
	}

	// system prompt + 3 history turns + latest message
	if got := len(mock.lastParams.Messages); got != 5 {
		t.Errorf("expected 5 messages, got %d", got)
	}
	if mock.lastParams.Model != openai.ChatModelGPT4oMini {
		t.Errorf("model = %q", mock.lastParams.Model)
	}
}

func TestGenerateReplyErrors(t *testing.T) {
	t.Run("api failure", func(t *testing.T) {
		mock := &mockChatService{err: errors.New("rate limited")}
		if _, err := newTestClient(mock).GenerateReply(context.Background(), "oi", nil); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("no choices", func(t *testing.T) {
		mock := &mockChatService{completion: openai.ChatCompletion{}}
		if _, err := newTestClient(mock).GenerateReply(context.Background(), "oi", nil); !errors.Is(err, ErrNoChoicesReturned) {
			t.Errorf("expected ErrNoChoicesReturned, got %v", err)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		mock := &mockChatService{completion: completionWith("   ")}
		if _, err := newTestClient(mock).GenerateReply(context.Background(), "oi", nil); !errors.Is(err, ErrEmptyReply) {
			t.Errorf("expected ErrEmptyReply, got %v", err)
		}
	})
}
