// Package grants implements the application, milestone and fund-disbursal
// state machine behind the grant workflow workers.
package grants

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ApplicationState is the lifecycle state of an Application.
//
//	Submitted -> Resubmit | Approved | Rejected
//	Resubmit  -> Submitted (owner resubmission)
//	Approved  -> Complete  (once the last milestone is approved)
type ApplicationState uint8

const (
	StateSubmitted ApplicationState = iota
	StateResubmit
	StateApproved
	StateRejected
	StateComplete
)

var applicationStateNames = [...]string{"submitted", "resubmit", "approved", "rejected", "complete"}

func (s ApplicationState) String() string {
	if int(s) < len(applicationStateNames) {
		return applicationStateNames[s]
	}
	return fmt.Sprintf("ApplicationState(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s ApplicationState) Terminal() bool {
	return s == StateRejected || s == StateComplete
}

func (s ApplicationState) MarshalText() ([]byte, error) {
	if int(s) >= len(applicationStateNames) {
		return nil, fmt.Errorf("unknown application state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *ApplicationState) UnmarshalText(text []byte) error {
	parsed, err := ParseApplicationState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseApplicationState accepts the lower-case state names, case-insensitively.
func ParseApplicationState(name string) (ApplicationState, error) {
	for i, n := range applicationStateNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return ApplicationState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown application state %q", name)
}

// MilestoneState moves Submitted -> Requested -> Approved or Submitted -> Approved.
type MilestoneState uint8

const (
	MilestoneSubmitted MilestoneState = iota
	MilestoneRequested
	MilestoneApproved
)

var milestoneStateNames = [...]string{"submitted", "requested", "approved"}

func (s MilestoneState) String() string {
	if int(s) < len(milestoneStateNames) {
		return milestoneStateNames[s]
	}
	return fmt.Sprintf("MilestoneState(%d)", uint8(s))
}

func (s MilestoneState) MarshalText() ([]byte, error) {
	if int(s) >= len(milestoneStateNames) {
		return nil, fmt.Errorf("unknown milestone state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *MilestoneState) UnmarshalText(text []byte) error {
	for i, n := range milestoneStateNames {
		if strings.EqualFold(n, string(text)) {
			*s = MilestoneState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown milestone state %q", string(text))
}

// Application is a claimant's submission against a grant.
type Application struct {
	ID             uint64           `json:"id"`
	WorkspaceID    uint64           `json:"workspaceId"`
	GrantID        string           `json:"grantId"`
	Owner          string           `json:"owner"`
	MilestoneCount int              `json:"milestoneCount"`
	MetadataHash   string           `json:"metadataHash"`
	State          ApplicationState `json:"state"`
	MilestonesDone bool             `json:"milestonesDone"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Grant is a funding offer scoped to one workspace.
type Grant struct {
	ID             string    `json:"id"`
	WorkspaceID    uint64    `json:"workspaceId"`
	Active         bool      `json:"active"`
	NumApplicants  uint64    `json:"numApplicants"`
	MetadataHash   string    `json:"metadataHash"`
	CustodyAccount string    `json:"custodyAccount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DisbursalMode selects where milestone funds come from.
type DisbursalMode string

const (
	DisbursalFromPool DisbursalMode = "pool"
	DisbursalP2P      DisbursalMode = "p2p"
)

func (m DisbursalMode) Valid() bool {
	return m == DisbursalFromPool || m == DisbursalP2P
}

// DisbursalInstruction asks ApproveMilestone to release funds right after
// the approval is recorded.
type DisbursalInstruction struct {
	Mode   DisbursalMode
	Asset  string
	Amount *big.Int
}

// Disbursal is the record of a successful milestone payout. At most one
// exists per (application, milestone).
type Disbursal struct {
	ApplicationID uint64        `json:"applicationId"`
	MilestoneID   int           `json:"milestoneId"`
	Mode          DisbursalMode `json:"mode"`
	Asset         string        `json:"asset"`
	Amount        *big.Int      `json:"amount"`
	Source        string        `json:"source"`
	Recipient     string        `json:"recipient"`
	Reference     string        `json:"reference"`
	DisbursedBy   string        `json:"disbursedBy"`
	DisbursedAt   time.Time     `json:"disbursedAt"`
}

type DisbursalStatus string

const (
	DisbursalSucceeded DisbursalStatus = "succeeded"
	DisbursalFailed    DisbursalStatus = "failed"
)

// DisbursalOutcome is returned alongside a committed operation; a failed
// outcome never rolls back the surrounding workflow change.
type DisbursalOutcome struct {
	ApplicationID uint64          `json:"applicationId"`
	MilestoneID   int             `json:"milestoneId"`
	Mode          DisbursalMode   `json:"mode"`
	Asset         string          `json:"asset"`
	Amount        *big.Int        `json:"amount"`
	Recipient     string          `json:"recipient"`
	Reference     string          `json:"reference"`
	Status        DisbursalStatus `json:"status"`
	FailureCode   string          `json:"failureCode,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
}

func (o *DisbursalOutcome) Succeeded() bool {
	return o != nil && o.Status == DisbursalSucceeded
}

type EventType string

const (
	EventApplicationSubmitted      EventType = "ApplicationSubmitted"
	EventApplicationResubmitted    EventType = "ApplicationResubmitted"
	EventApplicationStateChanged   EventType = "ApplicationStateChanged"
	EventApplicationCompleted      EventType = "ApplicationCompleted"
	EventMilestoneRequested        EventType = "MilestoneApprovalRequested"
	EventMilestoneApproved         EventType = "MilestoneApproved"
	EventDisbursalSucceeded        EventType = "DisbursalSucceeded"
	EventDisbursalFailed           EventType = "DisbursalFailed"
	EventGrantCreated              EventType = "GrantCreated"
	EventGrantAccessibilityUpdated EventType = "GrantAccessibilityUpdated"
	EventFundsDeposited            EventType = "FundsDeposited"
)

// Event is an append-only record of a committed change.
type Event struct {
	ID            uuid.UUID              `json:"id"`
	Type          EventType              `json:"type"`
	Actor         string                 `json:"actor"`
	WorkspaceID   uint64                 `json:"workspaceId"`
	GrantID       string                 `json:"grantId,omitempty"`
	ApplicationID *uint64                `json:"applicationId,omitempty"`
	MilestoneID   *int                   `json:"milestoneId,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
}

// TransferRequest moves Amount of Asset between two ledger accounts.
// Reference is used as the idempotency key.
type TransferRequest struct {
	Asset     string
	Amount    *big.Int
	From      string
	To        string
	Reference string
}

// DisbursalReference is the idempotency key for one milestone payout
// attempt. Attempts that differ in mode, source account, asset or amount get
// different keys, so the ledger never answers one of them with the result of
// another.
func DisbursalReference(applicationID uint64, milestoneID int, mode DisbursalMode, source, asset string, amount *big.Int) string {
	return fmt.Sprintf("grant-disbursal-%d-%d-%s-%s-%s-%s", applicationID, milestoneID, mode, source, asset, amount.String())
}

// ParseAmount reads a non-negative base-10 integer of arbitrary size.
// Amounts travel as strings because job variables are JSON numbers, which
// lose precision past 2^53.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, wrap(ErrInvalidInput, "amount %q is not a non-negative integer", s)
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, wrap(ErrInvalidInput, "amount %q is not a non-negative integer", s)
	}
	return amount, nil
}
