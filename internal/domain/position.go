package domain

import "time"

// PendingPosition is a bought asset awaiting scheduled liquidation. Amounts
// are in the unit the buy was denominated in (SOL for mirrored buys).
type PendingPosition struct {
	AssetID         string    `json:"asset_id"`
	TotalAmount     float64   `json:"total_amount"`
	RemainingAmount float64   `json:"remaining_amount"`
	NextActionDue   time.Time `json:"next_action_due"`
	OpenedAt        time.Time `json:"opened_at"`
	Failures        int       `json:"failures"` // consecutive failed scheduled sells
}

// Due reports whether the next scheduled sell may run at now.
func (p PendingPosition) Due(now time.Time) bool {
	return !now.Before(p.NextActionDue)
}
