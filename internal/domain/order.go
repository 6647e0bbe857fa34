package domain

// OrderRequest is the normalized order sent to the execution endpoint. Exactly
// one of Amount or Percentage is meaningful: Percentage (e.g. "100%") is used
// for liquidations relative to our current holdings.
type OrderRequest struct {
	Action        TradeAction
	AssetID       string
	Amount        float64
	Percentage    string
	AmountIsQuote bool
	Slippage      float64
	PriorityFee   float64
	Pool          string
}

// OrderResult is a successful submission.
type OrderResult struct {
	Signature string
}
