// Package feed implements a RoundSource backed by an exchange websocket
// trade stream. Used off-chain, where no aggregator contract is available.
package feed

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// WSRequest is a websocket subscription request.
type WSRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// WSResponse is a websocket subscription response.
type WSResponse struct {
	Result json.RawMessage `json:"result"`
	ID     int64           `json:"id"`
}

// StreamEvent is the base wrapper for combined stream messages.
type StreamEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// TradeEvent is an aggregate trade tick.
// Stream: <symbol>@aggTrade
type TradeEvent struct {
	EventType string `json:"e"` // "aggTrade"
	EventTime int64  `json:"E"` // Event time (ms)
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"` // Trade time (ms)
}

// ParsePrice parses the trade price.
func (e *TradeEvent) ParsePrice() (decimal.Decimal, error) {
	return decimal.NewFromString(e.Price)
}

// Timestamp returns the trade time.
func (e *TradeEvent) Timestamp() time.Time {
	return time.UnixMilli(e.TradeTime)
}

// TradeStream returns the aggTrade stream name for a symbol.
func TradeStream(symbol string) string {
	return lowercase(symbol) + "@aggTrade"
}

func lowercase(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 32
		}
	}
	return string(b)
}
