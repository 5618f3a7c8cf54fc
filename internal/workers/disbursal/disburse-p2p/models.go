package disbursep2p

type Input struct {
	Caller        string `json:"caller"`
	ApplicationID uint64 `json:"applicationId"`
	MilestoneID   int    `json:"milestoneId"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"` // base-10 integer in the asset's smallest unit
}

type Output struct {
	DisbursalStatus string `json:"disbursalStatus"`
	Reference       string `json:"reference"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	FailureCode     string `json:"failureCode,omitempty"`
	FailureReason   string `json:"failureReason,omitempty"`
}
