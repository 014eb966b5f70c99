package ui

import (
	"fmt"
	"strings"

	"github.com/vnstockai/chat-gateway/internal/agent"
)

// maxSuggestions bounds the follow-up list shown under a reply
const maxSuggestions = 3

// SuggestionMessage is one follow-up prompt offered to the user
type SuggestionMessage struct {
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
	Icon   string `json:"icon,omitempty"`
}

// GenerateSuggestions derives up to three follow-up prompts from the reply,
// the user's query and the detected intent.
func GenerateSuggestions(reply, query, intent string) []SuggestionMessage {
	var suggestions []SuggestionMessage
	replyLower := strings.ToLower(reply)
	queryLower := strings.ToLower(query)

	symbols := symbolPattern.FindAllString(query, -1)

	if containsAny(replyLower, "giá hiện tại", "giá hôm nay", "current price") {
		suggestions = append(suggestions, SuggestionMessage{
			Text:   "Xem lịch sử giá 1 tháng qua",
			Action: "query:lịch sử giá",
			Icon:   "📊",
		})
	}

	if len(symbols) == 1 {
		suggestions = append(suggestions, SuggestionMessage{
			Text:   fmt.Sprintf("So sánh %s với mã khác", symbols[0]),
			Action: fmt.Sprintf("query:so sánh %s", symbols[0]),
			Icon:   "🔍",
		})
	}

	if containsAny(queryLower, "giá", "price") && len(symbols) > 0 {
		suggestions = append(suggestions, SuggestionMessage{
			Text:   "Xem báo cáo tài chính",
			Action: "query:báo cáo tài chính",
			Icon:   "📈",
		})
	}

	if containsAny(replyLower, "giá", "price") && !strings.Contains(queryLower, "mua") && len(symbols) == 1 {
		suggestions = append(suggestions, SuggestionMessage{
			Text:   fmt.Sprintf("Mua %s", symbols[0]),
			Action: fmt.Sprintf("buy:%s", symbols[0]),
			Icon:   "💰",
		})
	}

	if len(symbols) == 1 && intent != agent.IntentMarketOverview {
		suggestions = append(suggestions, SuggestionMessage{
			Text:   "Xem tổng quan thị trường",
			Action: "query:tổng quan thị trường",
			Icon:   "🌐",
		})
	}

	if intent == agent.IntentStockDetail && len(symbols) > 0 {
		suggestions = append(suggestions, SuggestionMessage{
			Text:   fmt.Sprintf("Xem tin tức %s", symbols[0]),
			Action: fmt.Sprintf("query:tin tức %s", symbols[0]),
			Icon:   "📰",
		})
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions, SuggestionMessage{
			Text:   "Tôi có thể hỏi gì khác?",
			Action: "help",
			Icon:   "❓",
		})
	}

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

// DefaultSuggestions is shown when there is no conversation context yet
func DefaultSuggestions() []SuggestionMessage {
	return []SuggestionMessage{
		{Text: "Xem tổng quan thị trường", Action: "query:tổng quan thị trường", Icon: "🌐"},
		{Text: "Giá cổ phiếu VCB hôm nay?", Action: "query:Giá VCB hôm nay", Icon: "💹"},
		{Text: "Tìm hiểu thêm", Action: "help", Icon: "❓"},
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
