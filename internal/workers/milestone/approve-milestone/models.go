package approvemilestone

type Disbursal struct {
	Mode   string `json:"mode"` // pool | p2p
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type Input struct {
	Caller        string     `json:"caller"`
	ApplicationID uint64     `json:"applicationId"`
	MilestoneID   int        `json:"milestoneId"`
	WorkspaceID   uint64     `json:"workspaceId"`
	Reason        string     `json:"reason"`
	Disbursal     *Disbursal `json:"disbursal,omitempty"`
}

type Output struct {
	ApplicationID   uint64 `json:"applicationId"`
	MilestoneID     int    `json:"milestoneId"`
	State           string `json:"state"`
	MilestonesDone  bool   `json:"milestonesDone"`
	DisbursalStatus string `json:"disbursalStatus,omitempty"`
	Reference       string `json:"reference,omitempty"`
	FailureCode     string `json:"failureCode,omitempty"`
}
