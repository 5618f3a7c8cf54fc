package requestmilestoneapproval

type Input struct {
	Caller        string `json:"caller"`
	ApplicationID uint64 `json:"applicationId"`
	MilestoneID   int    `json:"milestoneId"`
	Reason        string `json:"reason"`
}

type Output struct {
	ApplicationID  uint64 `json:"applicationId"`
	MilestoneID    int    `json:"milestoneId"`
	MilestoneState string `json:"milestoneState"`
}
