package updategrantaccessibility

type Input struct {
	Caller      string `json:"caller"`
	GrantID     string `json:"grantId"`
	WorkspaceID uint64 `json:"workspaceId"`
	Active      *bool  `json:"active"`
}

type Output struct {
	GrantID string `json:"grantId"`
	Active  bool   `json:"active"`
}
