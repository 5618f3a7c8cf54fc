package grants

import (
	apperrors "grant-workers/internal/common/errors"
)

// Sentinels for errors.Is. Operations return apperrors.Wrap(sentinel, ...)
// so the BPMN error code survives any amount of fmt.Errorf wrapping.
var (
	ErrDuplicateApplication = apperrors.Sentinel(apperrors.ErrCodeDuplicateApplication, "Principal already applied to this grant")
	ErrGrantInactive        = apperrors.Sentinel(apperrors.ErrCodeGrantInactive, "Grant is not accepting applications")
	ErrUnauthorized         = apperrors.Sentinel(apperrors.ErrCodeUnauthorized, "Caller is not authorized")
	ErrWorkspaceMismatch    = apperrors.Sentinel(apperrors.ErrCodeWorkspaceMismatch, "Workspace does not match")
	ErrInvalidState         = apperrors.Sentinel(apperrors.ErrCodeInvalidState, "Application is in the wrong state")
	ErrInvalidTransition    = apperrors.Sentinel(apperrors.ErrCodeInvalidTransition, "State transition not allowed")
	ErrInvalidMilestoneID   = apperrors.Sentinel(apperrors.ErrCodeInvalidMilestoneID, "Milestone index out of bounds")
	ErrMilestonesIncomplete = apperrors.Sentinel(apperrors.ErrCodeMilestonesIncomplete, "Final milestone has not been approved")
	ErrAlreadyDisbursed     = apperrors.Sentinel(apperrors.ErrCodeAlreadyDisbursed, "Milestone funds were already released")
	ErrInvalidInput         = apperrors.Sentinel(apperrors.ErrCodeInvalidInput, "Invalid input")
	ErrNotFound             = apperrors.Sentinel(apperrors.ErrCodeNotFound, "Not found")
	ErrTransferFailed       = apperrors.Sentinel(apperrors.ErrCodeTransferFailed, "Asset transfer failed")
)

// TransferError reports that an asset movement did not happen. Ledger
// rejections, unreachable ledgers and insufficient custodial balance all
// surface as a TransferError.
type TransferError struct {
	Reason string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return "transfer failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "transfer failed: " + e.Reason
}

func (e *TransferError) Unwrap() error { return e.Err }

func (e *TransferError) Is(target error) bool { return target == ErrTransferFailed }

func wrap(sentinel *apperrors.StandardError, format string, args ...interface{}) error {
	return apperrors.Wrap(sentinel, format, args...)
}
