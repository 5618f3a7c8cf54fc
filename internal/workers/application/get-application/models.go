package getapplication

import "grant-workers/internal/grants"

type Input struct {
	ApplicationID  uint64 `json:"applicationId"`
	IncludeHistory bool   `json:"includeHistory,omitempty"`
}

type Output struct {
	ApplicationID  uint64         `json:"applicationId"`
	Owner          string         `json:"owner"`
	GrantID        string         `json:"grantId"`
	WorkspaceID    uint64         `json:"workspaceId"`
	MetadataHash   string         `json:"metadataHash"`
	State          string         `json:"state"`
	MilestoneCount int            `json:"milestoneCount"`
	MilestonesDone bool           `json:"milestonesDone"`
	Milestones     []string       `json:"milestones"`
	History        []grants.Event `json:"history,omitempty"`
}
