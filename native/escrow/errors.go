package escrow

import "errors"

// Every operation aborts with one of these named errors and zero side
// effects. Callers distinguish "permanently invalid" (validation,
// authorization) from "not yet eligible" (timing) and from custodian
// integrity failures, which may succeed on retry.
var (
	// Validation.
	ErrInvalidAmount     = errors.New("escrow: amount must be positive")
	ErrInvalidSeller     = errors.New("escrow: seller must be a distinct, non-zero address")
	ErrInvalidThreshold  = errors.New("escrow: trust threshold must be between 50 and 100")
	ErrInvalidWinner     = errors.New("escrow: winner must be the buyer or the seller")
	ErrInvalidCommitment = errors.New("escrow: response commitment must be non-zero")
	ErrEvidenceTooLarge  = errors.New("escrow: dispute evidence exceeds the size bound")

	// Authorization.
	ErrUnauthorizedCaller    = errors.New("escrow: caller not permitted for this operation")
	ErrSellerCannotChallenge = errors.New("escrow: seller cannot challenge their own escrow")

	// State.
	ErrEscrowNotFound     = errors.New("escrow: not found")
	ErrEscrowExists       = errors.New("escrow: identifier already exists")
	ErrInvalidStatus      = errors.New("escrow: operation invalid for current status")
	ErrChallengeNotFound  = errors.New("escrow: challenge not found")
	ErrChallengeNotActive = errors.New("escrow: challenge not awaiting response")
	ErrChallengePending   = errors.New("escrow: unresolved challenge already attached")
	ErrDisputeNotFound    = errors.New("escrow: dispute not found")
	ErrDisputeResolved    = errors.New("escrow: dispute already resolved")

	// Timing.
	ErrEscrowExpired           = errors.New("escrow: expiry deadline has passed")
	ErrEscrowNotExpired        = errors.New("escrow: expiry deadline has not passed")
	ErrConsentNotOpen          = errors.New("escrow: oracle timeout has not elapsed")
	ErrChallengeCooldown       = errors.New("escrow: challenger cooldown still active")
	ErrResponseWindowClosed    = errors.New("escrow: response window has closed")
	ErrChallengeDeadlinePassed = errors.New("escrow: challenge deadline has passed")
	ErrChallengeNotExpired     = errors.New("escrow: challenge deadline has not passed")

	// Economic.
	ErrScoreBelowThreshold = errors.New("escrow: trust score below release threshold")

	// Integrity.
	ErrTransferFailed = errors.New("escrow: custodian transfer rejected")
	ErrReentrantCall  = errors.New("escrow: operation already in flight for this id")
)

var (
	errNilState     = errors.New("escrow engine: state not configured")
	errNilCustodian = errors.New("escrow engine: asset custodian not configured")
)
