package pumpportal

import (
	"strconv"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Subscription methods understood by the data websocket.
const (
	MethodSubscribeAccountTrade = "subscribeAccountTrade"
	MethodSubscribeTokenTrade   = "subscribeTokenTrade"
	MethodSubscribeNewToken     = "subscribeNewToken"
)

// Subscription is a command sent on the data websocket. It is replayed on
// every new connection.
type Subscription struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// AccountTrades subscribes to trades made by the given wallets.
func AccountTrades(keys ...string) Subscription {
	return Subscription{Method: MethodSubscribeAccountTrade, Keys: keys}
}

// TokenTrades subscribes to every trade on the given mints.
func TokenTrades(keys ...string) Subscription {
	return Subscription{Method: MethodSubscribeTokenTrade, Keys: keys}
}

// TradeRequest is the JSON body of a trade-local or lightning trade call.
// Amount is either a number or a percentage string such as "100%".
type TradeRequest struct {
	Action           string  `json:"action"`
	Mint             string  `json:"mint"`
	Amount           any     `json:"amount"`
	DenominatedInSol string  `json:"denominatedInSol"`
	Slippage         float64 `json:"slippage"`
	PriorityFee      float64 `json:"priorityFee"`
	Pool             string  `json:"pool,omitempty"`
}

// TradeResponse is the decoded response of the trade endpoint.
type TradeResponse struct {
	Signature string `json:"signature"`
	Errors    any    `json:"errors,omitempty"`
}

// NewTradeRequest converts a domain order to the wire shape.
func NewTradeRequest(o domain.OrderRequest) TradeRequest {
	var amount any = o.Amount
	if o.Percentage != "" {
		amount = o.Percentage
	}
	return TradeRequest{
		Action:           string(o.Action),
		Mint:             o.AssetID,
		Amount:           amount,
		DenominatedInSol: strconv.FormatBool(o.AmountIsQuote),
		Slippage:         o.Slippage,
		PriorityFee:      o.PriorityFee,
		Pool:             o.Pool,
	}
}
