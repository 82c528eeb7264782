package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"tutorchat/internal/config"
	"tutorchat/internal/models"
)

const systemPrompt = "You are a helpful student tutor. Answer clearly and concisely, " +
	"and encourage the student to reason through problems."

// Service produces chat replies and title suggestions through a provider model.
type Service struct {
	chatModel model.ToolCallingChatModel
}

// NewService builds the chat model for the named provider. Providers other than
// the known three are treated as openai-compatible and require a base URL
// (this is how the cohere endpoint is configured).
func NewService(ctx context.Context, provider string, provCfg config.ProviderConfig) (*Service, error) {
	var chatModel model.ToolCallingChatModel
	var err error

	modelName := provCfg.Model
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		if provCfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %s needs a base_url", provider)
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &Service{chatModel: chatModel}, nil
}

// NewWithModel wraps an already-built chat model.
func NewWithModel(m model.ToolCallingChatModel) *Service {
	return &Service{chatModel: m}
}

// Reply generates the tutor's answer to message given the prior history.
// Text extracted from attached images is appended as extra context.
func (s *Service) Reply(ctx context.Context, message string, history []models.HistoryEntry, imageNotes []string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("message is required")
	}

	content := message
	if len(imageNotes) > 0 {
		var b strings.Builder
		b.WriteString(message)
		b.WriteString("\n\nText extracted from attached images:\n")
		for _, note := range imageNotes {
			b.WriteString(note)
			b.WriteString("\n")
		}
		content = b.String()
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, &schema.Message{Role: schema.System, Content: systemPrompt})
	for _, entry := range history {
		role := schema.User
		if entry.Sender == models.SenderAssistant {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: entry.Text})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: content})

	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return resp.Content, nil
}

// SuggestTitle asks the model for a short conversation title based on the
// first substantive user message. An empty result means no suggestion.
func (s *Service) SuggestTitle(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", nil
	}
	titlePrompt := "You are a conversation title generator. " +
		"Based on the user's message, generate a concise and accurate title for the conversation. " +
		"The title should be at most six words and summarize the main topic. " +
		"Output only the title; do not include any additional content."

	messages := []*schema.Message{
		{Role: schema.System, Content: titlePrompt},
		{Role: schema.User, Content: fmt.Sprintf("Please generate a title for this message:\n\n%s", message)},
	}
	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	return strings.TrimSpace(strings.Trim(resp.Content, `"`)), nil
}
