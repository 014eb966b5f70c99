// Package ui converts abstract agent intents into the closed set of
// instructions the presentation layer understands.
package ui

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Instruction type tags. The union is closed: unknown intents never fabricate
// a variant, and a new variant is only added together with its intent tag.
const (
	TypeShowMarketOverview = "SHOW_MARKET_OVERVIEW"
	TypeOpenBuyStock       = "OPEN_BUY_STOCK"
	TypeOpenNews           = "OPEN_NEWS"
	TypeOpenStockDetail    = "OPEN_STOCK_DETAIL"
)

// ErrPayloadShapeMismatch marks an intent payload that fails validation for
// its variant. The instruction is omitted, never emitted malformed.
var ErrPayloadShapeMismatch = errors.New("intent payload shape mismatch")

// BuyFlowStep is one step of the guided buy flow
type BuyFlowStep struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// BuyStockData is the OPEN_BUY_STOCK payload
type BuyStockData struct {
	Symbol       string        `json:"symbol"`
	CurrentPrice float64       `json:"currentPrice"`
	Steps        []BuyFlowStep `json:"steps"`
}

// NewsItem is one entry of the OPEN_NEWS payload
type NewsItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	TimeAgo   string `json:"timeAgo"`
	Sentiment string `json:"sentiment"` // positive, negative, neutral
}

// NewsData is the OPEN_NEWS payload
type NewsData struct {
	Symbol string     `json:"symbol,omitempty"`
	Items  []NewsItem `json:"items"`
}

// StockDetailData is the OPEN_STOCK_DETAIL payload. Only the symbol is
// required; richer fields pass through when the agent supplies them.
type StockDetailData struct {
	Symbol        string           `json:"symbol"`
	Name          string           `json:"name,omitempty"`
	Description   string           `json:"description,omitempty"`
	Price         float64          `json:"price,omitempty"`
	ChangePercent float64          `json:"changePercent,omitempty"`
	IntradayChart []map[string]any `json:"intradayChart,omitempty"`
}

// Instruction is one member of the closed UI instruction union.
// Payload is nil exactly for the tagless SHOW_MARKET_OVERVIEW variant and is
// omitted from the JSON encoding in that case.
type Instruction struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// UnmarshalJSON decodes the payload into the concrete type for the tag,
// rejecting tags outside the union.
func (i *Instruction) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	i.Type = raw.Type
	i.Payload = nil

	switch raw.Type {
	case TypeShowMarketOverview:
		return nil
	case TypeOpenBuyStock:
		var p BuyStockData
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		i.Payload = p
	case TypeOpenNews:
		var p NewsData
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		i.Payload = p
	case TypeOpenStockDetail:
		var p StockDetailData
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		i.Payload = p
	default:
		return fmt.Errorf("unknown instruction type %q", raw.Type)
	}
	return nil
}

// defaultBuySteps is the standard three-step buy flow, used when the agent
// supplies no steps of its own.
func defaultBuySteps() []BuyFlowStep {
	return []BuyFlowStep{
		{ID: "choose_volume", Title: "Chọn khối lượng"},
		{ID: "choose_price", Title: "Chọn giá đặt lệnh"},
		{ID: "confirm", Title: "Xác nhận lệnh"},
	}
}
