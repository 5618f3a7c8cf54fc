package completeapplication

type Input struct {
	Caller        string `json:"caller"`
	ApplicationID uint64 `json:"applicationId"`
	WorkspaceID   uint64 `json:"workspaceId"`
	Reason        string `json:"reason"`
}

type Output struct {
	ApplicationID  uint64 `json:"applicationId"`
	State          string `json:"state"`
	MilestoneCount int    `json:"milestoneCount"`
	MilestonesDone bool   `json:"milestonesDone"`
}
