package domain

import "time"

// TradeAction is the side of a trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// TradeSignal is a normalized trade observed on the feed. It is produced only
// by the signal normalizer and never mutated afterwards.
type TradeSignal struct {
	Action        TradeAction
	AssetID       string  // token mint
	Amount        float64 // already scaled by the participation ratio
	AmountIsQuote bool    // true when Amount is denominated in SOL
	ObservedAt    time.Time
	Originator    string // trader public key being mirrored
	SourceTx      string // signature of the observed transaction, may be empty
}

// SellPolicy decides what a feed sell signal means for our own holdings.
type SellPolicy string

const (
	// SellPolicyIgnore drops sell signals; positions are liquidated only by
	// the scheduler.
	SellPolicyIgnore SellPolicy = "ignore"
	// SellPolicyLiquidate sells a configured share of our holdings when the
	// mirrored trader sells.
	SellPolicyLiquidate SellPolicy = "liquidate"
)

// FeedState is the connection state of the live trade feed.
type FeedState string

const (
	FeedConnecting   FeedState = "connecting"
	FeedOpen         FeedState = "open"
	FeedReconnecting FeedState = "reconnecting"
	FeedClosed       FeedState = "closed"
)

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode          string    `json:"mode"`
	FeedState     FeedState `json:"feed_state"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	OpenPositions int       `json:"open_positions"`
	QueueDepth    int       `json:"queue_depth"`
	Originators   int       `json:"originators"`
}
