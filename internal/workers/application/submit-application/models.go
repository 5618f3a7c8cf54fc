package submitapplication

type Input struct {
	Caller         string `json:"caller"`
	GrantID        string `json:"grantId"`
	WorkspaceID    uint64 `json:"workspaceId"`
	MetadataHash   string `json:"metadataHash"`
	MilestoneCount int    `json:"milestoneCount"`
}

type Output struct {
	ApplicationID  uint64 `json:"applicationId"`
	State          string `json:"state"`
	MilestoneCount int    `json:"milestoneCount"`
	MilestonesDone bool   `json:"milestonesDone"`
}
