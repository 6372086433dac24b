package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/TripPipe/internal/intent"
	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGeneratePrompt_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("Hello World")}
	client := &Client{chat: mock, model: "test-model"}
	out, err := client.GeneratePromptWithContext(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params.Messages) != 2 || mock.params.Model != "test-model" {
		t.Errorf("unexpected request params %+v", mock.params)
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"remove 2nd stop", "remove 2nd stop"},
		{"  `add Central Park as a park`\n", "add Central Park as a park"},
		{"replace 1st stop with MoMA\nsecond line ignored", "replace 1st stop with MoMA"},
		{"UNRECOGNIZED", intent.UnrecognizedToken},
		{"   ", intent.UnrecognizedToken},
	}
	for _, tt := range tests {
		client := &Client{chat: &mockChatService{resp: completion(tt.content)}}
		got, err := client.Normalize(context.Background(), "whatever")
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", tt.content, err)
		}
		if got != tt.want {
			t.Errorf("Normalize with content %q = %q, want %q", tt.content, got, tt.want)
		}
	}
}

func TestNormalize_FeedsParser(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion("let's bike instead")}}
	p := intent.NewParser(intent.WithNormalizer(client))
	cmd := p.Parse(context.Background(), "can we cycle between places")
	if cmd != (intent.ChangeMode{Mode: "bike"}) {
		t.Errorf("expected ChangeMode bike, got %#v", cmd)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	key := "test-key"
	cli, err := NewClient(WithAPIKey(key))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
	if cli.model != DefaultModel || cli.temperature != 0 {
		t.Errorf("unexpected defaults model=%s temperature=%v", cli.model, cli.temperature)
	}
}
