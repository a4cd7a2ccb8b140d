package ai

import (
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// TestNewLLMService tests service creation.
func TestNewLLMService(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *LLMConfig
		expectError bool
	}{
		{
			name: "DeepSeek config",
			cfg: &LLMConfig{
				Provider:    "deepseek",
				Model:       "deepseek-chat",
				APIKey:      "test-key",
				BaseURL:     "https://api.deepseek.com",
				MaxTokens:   2048,
				Temperature: 0.3,
			},
			expectError: false,
		},
		{
			name: "OpenAI judge config",
			cfg: &LLMConfig{
				Provider:  "openai",
				Model:     "gpt-4o-mini",
				APIKey:    "test-key",
				MaxTokens: 1024,
				JSONMode:  true,
			},
			expectError: false,
		},
		{
			name: "Ollama config",
			cfg: &LLMConfig{
				Provider: "ollama",
				Model:    "llama3.1",
				BaseURL:  "http://localhost:11434",
			},
			expectError: false,
		},
		{
			name: "Unsupported provider",
			cfg: &LLMConfig{
				Provider: "unsupported",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewLLMService(tt.cfg)
			if (err != nil) != tt.expectError {
				t.Fatalf("NewLLMService() error = %v, expectError %v", err, tt.expectError)
			}
			if err == nil && service.Model() != tt.cfg.Model {
				t.Errorf("Model() = %s, want %s", service.Model(), tt.cfg.Model)
			}
		})
	}
}

// TestConvertMessages tests message conversion.
func TestConvertMessages(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a clinical documentation assistant"},
		{Role: "user", Content: "Session text"},
		{Role: "assistant", Content: "{}"},
	}

	llmMessages := convertMessages(messages)

	if len(llmMessages) != len(messages) {
		t.Fatalf("convertMessages() length = %d, want %d", len(llmMessages), len(messages))
	}

	wantRoles := []llms.ChatMessageType{llms.ChatMessageTypeSystem, llms.ChatMessageTypeHuman, llms.ChatMessageTypeAI}
	for i, want := range wantRoles {
		if llmMessages[i].Role != want {
			t.Errorf("message %d role = %s, want %s", i, llmMessages[i].Role, want)
		}
	}
}

// TestFormatMessages tests message formatting.
func TestFormatMessages(t *testing.T) {
	messages := FormatMessages("System prompt", "Current message")
	if len(messages) != 2 {
		t.Fatalf("FormatMessages() length = %d, want 2", len(messages))
	}
	if messages[0].Role != "system" {
		t.Errorf("messages[0].Role = %s, want 'system'", messages[0].Role)
	}
	if messages[1].Content != "Current message" {
		t.Errorf("last message Content = %s, want 'Current message'", messages[1].Content)
	}

	if got := FormatMessages("", "only user"); len(got) != 1 || got[0].Role != "user" {
		t.Errorf("FormatMessages() without system prompt = %+v", got)
	}
}
