package payout

// TransferPayload identifies the pending payout the transfer handler should
// push to the payment processor.
type TransferPayload struct {
	PayoutID string `json:"payout_id"`
	TraceID  string `json:"trace_id,omitempty"`
}
