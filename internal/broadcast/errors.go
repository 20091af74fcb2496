package broadcast

import "errors"

var (
	ErrCallNotFound      = errors.New("broadcast: call not found")
	ErrRequesterNotFound = errors.New("broadcast: requester profile not found")
	ErrCallInactive      = errors.New("broadcast: call is no longer active")
	ErrNotAParticipant   = errors.New("broadcast: donor is not part of this call")
	ErrNotRequester      = errors.New("broadcast: only the requester may do this")
	ErrAlreadyResponded  = errors.New("broadcast: donor already responded")
	ErrRingExpired       = errors.New("broadcast: ring timed out")
	ErrInvalidDecision   = errors.New("broadcast: decision must be accept or reject")
	ErrInvalidTransition = errors.New("broadcast: invalid status transition")
	ErrInvalidArgument   = errors.New("broadcast: invalid argument")
	ErrNoAcceptedDonors  = errors.New("broadcast: no donor has accepted yet")
	ErrThrottled         = errors.New("broadcast: too many broadcasts, try again later")

	// ErrConflict means a conditional write lost to a concurrent writer.
	ErrConflict = errors.New("broadcast: concurrent update")
	// ErrDuplicateCall is returned by Insert when the call id is taken.
	ErrDuplicateCall = errors.New("broadcast: duplicate call id")
)
