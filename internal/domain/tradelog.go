package domain

import "time"

// TradeLogEntry describes one order attempt. Entries are append-only and are
// never read back by the trading logic.
type TradeLogEntry struct {
	ID         string        `json:"id"`
	Action     TradeAction   `json:"action"`
	AssetID    string        `json:"asset_id"`
	Amount     float64       `json:"amount"`
	Percentage string        `json:"percentage,omitempty"`
	Originator string        `json:"originator,omitempty"`
	Trigger    string        `json:"trigger"` // "feed" or "schedule"
	SignalTime time.Time     `json:"signal_time"`
	ExecTime   *time.Time    `json:"exec_time,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	TxHash     string        `json:"tx_hash,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
}

// Succeeded reports whether the attempt produced a transaction.
func (e TradeLogEntry) Succeeded() bool {
	return e.TxHash != "" && e.Error == ""
}
