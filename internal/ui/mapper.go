package ui

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/vnstockai/chat-gateway/internal/agent"
	"github.com/vnstockai/chat-gateway/internal/observability"
)

// symbolPattern matches Vietnamese ticker symbols: 3-4 uppercase letters
var symbolPattern = regexp.MustCompile(`\b([A-Z]{3,4})\b`)

// ExtractSymbol returns the first ticker symbol found in text, or ""
func ExtractSymbol(text string) string {
	match := symbolPattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return match[1]
}

// Map converts an intent tag plus payload into zero or one Instruction.
// Unrecognized tags map to no instruction and no error. A recognized tag with
// a payload missing required fields returns ErrPayloadShapeMismatch; callers
// keep the reply text and omit the instruction.
//
// The reply text serves only as a symbol fallback when the payload names a
// ticker nowhere.
func Map(intent string, payload map[string]any, reply string) (*Instruction, error) {
	instruction, err := buildInstruction(intent, payload, reply)
	observability.RecordIntent(intent, instruction != nil)
	if err != nil {
		logger := observability.GetLogger()
		logger.Warn().
			Str("intent", intent).
			Err(err).
			Msg("instruction omitted")
	}
	return instruction, err
}

func buildInstruction(intent string, payload map[string]any, reply string) (*Instruction, error) {
	switch intent {
	case agent.IntentMarketOverview:
		return &Instruction{Type: TypeShowMarketOverview}, nil

	case agent.IntentBuyStock:
		return buildBuyStock(payload, reply)

	case agent.IntentViewNews:
		return buildNews(payload)

	case agent.IntentStockDetail:
		return buildStockDetail(payload, reply)
	}

	// Including agent.IntentNone: no instruction, not an error.
	return nil, nil
}

func buildBuyStock(payload map[string]any, reply string) (*Instruction, error) {
	symbol := stringField(payload, "symbol")
	if symbol == "" {
		symbol = ExtractSymbol(reply)
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: buy_stock payload has no symbol", ErrPayloadShapeMismatch)
	}

	price, ok := floatField(payload, "currentPrice")
	if !ok {
		price, ok = floatField(payload, "price")
	}
	if !ok {
		return nil, fmt.Errorf("%w: buy_stock payload has no currentPrice", ErrPayloadShapeMismatch)
	}

	steps := parseSteps(payload["steps"])
	if len(steps) == 0 {
		steps = defaultBuySteps()
	}

	return &Instruction{
		Type: TypeOpenBuyStock,
		Payload: BuyStockData{
			Symbol:       symbol,
			CurrentPrice: price,
			Steps:        steps,
		},
	}, nil
}

func buildNews(payload map[string]any) (*Instruction, error) {
	rawItems, ok := payload["items"].([]any)
	if !ok || len(rawItems) == 0 {
		return nil, fmt.Errorf("%w: view_news payload has no items", ErrPayloadShapeMismatch)
	}

	items := make([]NewsItem, 0, len(rawItems))
	for _, raw := range rawItems {
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: news item is not an object", ErrPayloadShapeMismatch)
		}
		item := NewsItem{
			ID:        stringField(fields, "id"),
			Title:     stringField(fields, "title"),
			Source:    stringField(fields, "source"),
			TimeAgo:   stringField(fields, "timeAgo"),
			Sentiment: stringField(fields, "sentiment"),
		}
		if item.ID == "" || item.Title == "" {
			return nil, fmt.Errorf("%w: news item missing id or title", ErrPayloadShapeMismatch)
		}
		switch item.Sentiment {
		case "positive", "negative", "neutral":
		default:
			item.Sentiment = "neutral"
		}
		items = append(items, item)
	}

	return &Instruction{
		Type: TypeOpenNews,
		Payload: NewsData{
			Symbol: stringField(payload, "symbol"),
			Items:  items,
		},
	}, nil
}

func buildStockDetail(payload map[string]any, reply string) (*Instruction, error) {
	symbol := stringField(payload, "symbol")
	if symbol == "" {
		symbol = ExtractSymbol(reply)
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: stock_detail payload has no symbol", ErrPayloadShapeMismatch)
	}

	detail := StockDetailData{
		Symbol:      symbol,
		Name:        stringField(payload, "name"),
		Description: stringField(payload, "description"),
	}
	if price, ok := floatField(payload, "price"); ok {
		detail.Price = price
	}
	if change, ok := floatField(payload, "changePercent"); ok {
		detail.ChangePercent = change
	}
	if chart, ok := payload["intradayChart"].([]any); ok {
		for _, point := range chart {
			if m, ok := point.(map[string]any); ok {
				detail.IntradayChart = append(detail.IntradayChart, m)
			}
		}
	}

	return &Instruction{Type: TypeOpenStockDetail, Payload: detail}, nil
}

func parseSteps(raw any) []BuyFlowStep {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var steps []BuyFlowStep
	for _, entry := range list {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		step := BuyFlowStep{
			ID:          stringField(fields, "id"),
			Title:       stringField(fields, "title"),
			Description: stringField(fields, "description"),
		}
		if step.ID != "" && step.Title != "" {
			steps = append(steps, step)
		}
	}
	return steps
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func floatField(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
