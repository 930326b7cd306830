package ledger

// CreditAwardPayload carries everything the award handler needs to evaluate
// reward policies without reloading the order.
type CreditAwardPayload struct {
	OrderID    string `json:"order_id"`
	ClubID     string `json:"club_id"`
	UserID     string `json:"user_id"`
	OrderKind  string `json:"order_kind"`
	ItemAmount int64  `json:"item_amount"`
	Total      int64  `json:"total"`
	TraceID    string `json:"trace_id,omitempty"`
}

type CreditExpiryPayload struct {
	ClubID string `json:"club_id,omitempty"`
}
