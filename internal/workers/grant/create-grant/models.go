package creategrant

type Input struct {
	Caller         string `json:"caller"`
	WorkspaceID    uint64 `json:"workspaceId"`
	MetadataHash   string `json:"metadataHash"`
	CustodyAccount string `json:"custodyAccount"`
	GrantID        string `json:"grantId,omitempty"`
}

type Output struct {
	GrantID     string `json:"grantId"`
	WorkspaceID uint64 `json:"workspaceId"`
	Active      bool   `json:"active"`
}
