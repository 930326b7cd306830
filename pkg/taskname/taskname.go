package taskname

const (
	// Payout tasks
	PayoutTransfer = "payout:transfer"

	// Credit tasks
	CreditAward     = "credits:award"
	CreditExpiryRun = "credits:expiry:run"
	ChainVerify     = "credits:chain:verify"
)
