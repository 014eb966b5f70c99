package chat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vnstockai/chat-gateway/internal/agent"
	"github.com/vnstockai/chat-gateway/internal/ui"
)

// ChatMetadata is optional caller context; nothing here is persisted
type ChatMetadata struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// ChatRequest is the POST /api/v1/chat body
type ChatRequest struct {
	Messages []agent.ConversationTurn `json:"messages"`
	Meta     *ChatMetadata            `json:"meta,omitempty"`
}

// ChatResponse is the POST /api/v1/chat 200 body
type ChatResponse struct {
	Reply              string                  `json:"reply"`
	UIEffects          []ui.Instruction        `json:"ui_effects"`
	SuggestionMessages []ui.SuggestionMessage  `json:"suggestion_messages"`
	RawAgentOutput     map[string]any          `json:"raw_agent_output"`
}

// ErrorResponse is the body of 4xx/5xx answers
type ErrorResponse struct {
	Error string `json:"error"`
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// Letters including Vietnamese diacritics; a valid message needs at
	// least one.
	letterPattern = regexp.MustCompile(`[a-zA-ZàáảãạăắằẳẵặâấầẩẫậèéẻẽẹêếềểễệìíỉĩịòóỏõọôốồổỗộơớờởỡợùúủũụưứừửữựỳýỷỹỵđĐ]`)
)

// Validate checks the conversation shape and normalizes the last user turn
// in place. Any violation wraps agent.ErrInvalidConversation.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages is required", agent.ErrInvalidConversation)
	}

	lastUser := -1
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == agent.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser < 0 {
		return fmt.Errorf("%w: at least one user message is required", agent.ErrInvalidConversation)
	}

	for _, m := range r.Messages {
		switch m.Role {
		case agent.RoleUser, agent.RoleAssistant, agent.RoleSystem:
		default:
			return fmt.Errorf("%w: unknown role %q", agent.ErrInvalidConversation, m.Role)
		}
	}

	content := strings.TrimSpace(r.Messages[lastUser].Content)
	if content == "" {
		return fmt.Errorf("%w: message content must not be empty", agent.ErrInvalidConversation)
	}
	content = whitespaceRun.ReplaceAllString(content, " ")

	letters := len(letterPattern.FindAllString(content, -1))
	if letters == 0 {
		return fmt.Errorf("%w: message must contain at least one letter", agent.ErrInvalidConversation)
	}

	// Reject messages that are mostly special characters
	total := len([]rune(strings.ReplaceAll(content, " ", "")))
	if total > 0 && float64(letters)/float64(total) < 0.3 {
		return fmt.Errorf("%w: message contains too many special characters", agent.ErrInvalidConversation)
	}

	r.Messages[lastUser].Content = content
	return nil
}

// LastUserMessage returns the content of the most recent user turn, or ""
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == agent.RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
