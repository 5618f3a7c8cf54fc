package notifyapplicant

type Input struct {
	ApplicationID uint64 `json:"applicationId"`
	Template      string `json:"template"`
	Reason        string `json:"reason,omitempty"`
	MilestoneID   *int   `json:"milestoneId,omitempty"`
}

type Output struct {
	EmailSent bool   `json:"emailSent"`
	SMSSent   bool   `json:"smsSent"`
	MessageID string `json:"messageId,omitempty"`
}

// Contact is how a principal can be reached. Empty fields are channels the
// principal has not registered.
type Contact struct {
	DisplayName string
	Email       string
	Phone       string
}
