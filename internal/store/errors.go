package store

import (
	"fmt"

	"github.com/aliuyar1234/bizdesk/internal/apperrors"
)

// Sentinel errors returned by Port implementations. Each wraps the matching
// apperrors category so callers can test either level with errors.Is.
var (
	// ErrNotFound is returned when a row does not exist or is not visible to the caller
	ErrNotFound = fmt.Errorf("store: not found: %w", apperrors.ErrNotFound)

	// ErrDuplicate is returned when a unique key would be violated
	ErrDuplicate = fmt.Errorf("store: duplicate row: %w", apperrors.ErrConflict)

	// ErrPolicyDenied is returned when row-level policy rejects a write
	ErrPolicyDenied = fmt.Errorf("store: denied by row-level policy: %w", apperrors.ErrNotAuthorized)

	// ErrUnavailable is returned when the backing store failed or timed out
	ErrUnavailable = fmt.Errorf("store: unavailable: %w", apperrors.ErrUpstreamUnavailable)

	// ErrInviteClaimed is returned when the conditional used_at transition matched no row
	ErrInviteClaimed = fmt.Errorf("store: invite already claimed: %w", apperrors.ErrAlreadyUsed)

	// ErrNotPending is returned when a decision targets a request that is no longer pending
	ErrNotPending = fmt.Errorf("store: access request not pending: %w", apperrors.ErrAlreadyDecided)
)

// Unavailable wraps err as ErrUnavailable, keeping the cause in the chain.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
