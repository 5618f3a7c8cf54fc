package depositgrantfunds

type Input struct {
	Caller  string `json:"caller"`
	GrantID string `json:"grantId"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type Output struct {
	GrantID string `json:"grantId"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}
