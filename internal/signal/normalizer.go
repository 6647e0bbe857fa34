// Package signal turns raw feed frames into domain.TradeSignal values.
package signal

import (
	"encoding/json"
	"math"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/solana"
)

// Kind classifies a raw frame.
type Kind int

const (
	KindInvalid Kind = iota // malformed or incomplete trade
	KindTrade               // a usable trade signal
	KindControl             // subscription acks and other server notices
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindControl:
		return "control"
	default:
		return "invalid"
	}
}

// rawTrade mirrors the pumpportal trade frame. Numeric fields go through
// json.RawMessage so a string or null amount is rejected rather than panicking
// or silently becoming zero.
type rawTrade struct {
	Mint            string          `json:"mint"`
	TxType          string          `json:"txType"`
	TraderPublicKey string          `json:"traderPublicKey"`
	SolAmount       json.RawMessage `json:"solAmount"`
	TokenAmount     json.RawMessage `json:"tokenAmount"`
	Signature       string          `json:"signature"`
	Message         string          `json:"message"`
	Errors          json.RawMessage `json:"errors"`
}

// Normalizer is safe for concurrent use; it holds configuration only.
type Normalizer struct {
	ratio  float64
	strict bool
	now    func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithStrictAddresses requires mint and trader to be 32-byte base58 keys.
func WithStrictAddresses() Option {
	return func(n *Normalizer) { n.strict = true }
}

// WithClock overrides the ObservedAt clock.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New returns a Normalizer that scales buy amounts by ratio. A negative ratio
// is treated as zero.
func New(ratio float64, opts ...Option) *Normalizer {
	if ratio < 0 || math.IsNaN(ratio) {
		ratio = 0
	}
	n := &Normalizer{ratio: ratio, now: time.Now}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize parses raw into a TradeSignal. It reports false for anything that
// is not a complete trade.
func (n *Normalizer) Normalize(raw []byte) (domain.TradeSignal, bool) {
	sig, kind := n.Classify(raw)
	return sig, kind == KindTrade
}

// Classify is Normalize with the reason for rejection preserved, so callers
// can keep control frames out of parse error counts.
func (n *Normalizer) Classify(raw []byte) (domain.TradeSignal, Kind) {
	var rt rawTrade
	if err := json.Unmarshal(raw, &rt); err != nil {
		return domain.TradeSignal{}, KindInvalid
	}
	if rt.TxType == "" && rt.Mint == "" && (rt.Message != "" || len(rt.Errors) > 0) {
		return domain.TradeSignal{}, KindControl
	}
	if rt.Mint == "" || rt.TxType == "" || rt.TraderPublicKey == "" {
		return domain.TradeSignal{}, KindInvalid
	}
	if n.strict {
		if solana.ValidateAddress(rt.Mint) != nil || solana.ValidateAddress(rt.TraderPublicKey) != nil {
			return domain.TradeSignal{}, KindInvalid
		}
	}

	sig := domain.TradeSignal{
		AssetID:    rt.Mint,
		Originator: rt.TraderPublicKey,
		SourceTx:   rt.Signature,
		ObservedAt: n.now(),
	}
	switch domain.TradeAction(rt.TxType) {
	case domain.ActionBuy:
		amount, ok := parseAmount(rt.SolAmount)
		if !ok {
			return domain.TradeSignal{}, KindInvalid
		}
		sig.Action = domain.ActionBuy
		sig.Amount = amount * n.ratio
		sig.AmountIsQuote = true
	case domain.ActionSell:
		// The mirrored trader's size says nothing about ours; only the
		// presence of a valid amount is checked.
		if _, ok := parseAmount(rt.TokenAmount); !ok {
			return domain.TradeSignal{}, KindInvalid
		}
		sig.Action = domain.ActionSell
	default:
		return domain.TradeSignal{}, KindInvalid
	}
	return sig, KindTrade
}

func parseAmount(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}
