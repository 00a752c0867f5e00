package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"custodia/core/types"
)

// Canonical event types. One per state transition so an indexer can
// reconstruct full escrow history from the stream alone.
const (
	EventTypeCreated            = "escrow.created"
	EventTypeReleased           = "escrow.released"
	EventTypeConsentRecorded    = "escrow.consent"
	EventTypeRefunded           = "escrow.refunded"
	EventTypeExpired            = "escrow.expired"
	EventTypeDisputed           = "escrow.disputed"
	EventTypeDisputeResolved    = "escrow.dispute.resolved"
	EventTypeChallengeInitiated = "escrow.challenge.initiated"
	EventTypeChallengeResponded = "escrow.challenge.responded"
	EventTypeChallengeResolved  = "escrow.challenge.resolved"
)

func baseAttributes(e *Escrow) map[string]string {
	attrs := make(map[string]string)
	if e == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(e.ID[:])
	attrs["buyer"] = hex.EncodeToString(e.Buyer[:])
	attrs["seller"] = hex.EncodeToString(e.Seller[:])
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	} else {
		attrs["amount"] = "0"
	}
	attrs["status"] = e.Status.String()
	return attrs
}

func withActor(attrs map[string]string, actor [20]byte) map[string]string {
	attrs["actor"] = hex.EncodeToString(actor[:])
	return attrs
}

// NewCreatedEvent returns the canonical payload for a newly created escrow.
func NewCreatedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["threshold"] = strconv.FormatUint(uint64(e.TrustThreshold), 10)
		attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
		attrs["expiresAt"] = strconv.FormatInt(e.ExpiresAt, 10)
		attrs = withActor(attrs, e.Buyer)
	}
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

// NewReleasedEvent returns the payload for a release, including the fee split
// so indexers can verify conservation without re-deriving fee math.
func NewReleasedEvent(e *Escrow, actor [20]byte, fee, payout *big.Int) *types.Event {
	attrs := withActor(baseAttributes(e), actor)
	if fee != nil {
		attrs["fee"] = fee.String()
	}
	if payout != nil {
		attrs["payout"] = payout.String()
	}
	return &types.Event{Type: EventTypeReleased, Attributes: attrs}
}

// NewConsentEvent records one turn of the two-key consent lock.
func NewConsentEvent(e *Escrow, actor [20]byte) *types.Event {
	return &types.Event{Type: EventTypeConsentRecorded, Attributes: withActor(baseAttributes(e), actor)}
}

// NewRefundedEvent returns the payload for a buyer-initiated refund.
func NewRefundedEvent(e *Escrow, actor [20]byte, reason string) *types.Event {
	attrs := withActor(baseAttributes(e), actor)
	if reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: EventTypeRefunded, Attributes: attrs}
}

// NewExpiredEvent returns the payload for an expiry claim.
func NewExpiredEvent(e *Escrow, actor [20]byte) *types.Event {
	return &types.Event{Type: EventTypeExpired, Attributes: withActor(baseAttributes(e), actor)}
}

// NewDisputedEvent returns the payload emitted when an escrow is escalated.
func NewDisputedEvent(e *Escrow, actor [20]byte) *types.Event {
	return &types.Event{Type: EventTypeDisputed, Attributes: withActor(baseAttributes(e), actor)}
}

// NewDisputeResolvedEvent returns the payload for an emergency resolution.
func NewDisputeResolvedEvent(e *Escrow, actor, winner [20]byte) *types.Event {
	attrs := withActor(baseAttributes(e), actor)
	attrs["winner"] = hex.EncodeToString(winner[:])
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: attrs}
}

func challengeAttributes(e *Escrow, ch *Challenge) map[string]string {
	attrs := baseAttributes(e)
	if ch == nil {
		return attrs
	}
	attrs["challenger"] = hex.EncodeToString(ch.Challenger[:])
	if ch.Stake != nil {
		attrs["stake"] = ch.Stake.String()
	}
	attrs["deadline"] = strconv.FormatUint(ch.Deadline, 10)
	attrs["respondBy"] = strconv.FormatUint(ch.RespondBy, 10)
	attrs["challengeStatus"] = ch.Status.String()
	return attrs
}

// NewChallengeInitiatedEvent returns the payload for a new challenge.
func NewChallengeInitiatedEvent(e *Escrow, ch *Challenge) *types.Event {
	attrs := challengeAttributes(e, ch)
	if ch != nil {
		attrs = withActor(attrs, ch.Challenger)
	}
	return &types.Event{Type: EventTypeChallengeInitiated, Attributes: attrs}
}

// NewChallengeRespondedEvent returns the payload for a seller response.
func NewChallengeRespondedEvent(e *Escrow, ch *Challenge) *types.Event {
	attrs := challengeAttributes(e, ch)
	if e != nil {
		attrs = withActor(attrs, e.Seller)
	}
	if ch != nil {
		attrs["commitment"] = hex.EncodeToString(ch.ResponseCommitment[:])
	}
	return &types.Event{Type: EventTypeChallengeResponded, Attributes: attrs}
}

// NewChallengeResolvedEvent returns the payload for a verdict or timeout.
func NewChallengeResolvedEvent(e *Escrow, ch *Challenge, actor [20]byte, timedOut bool) *types.Event {
	attrs := withActor(challengeAttributes(e, ch), actor)
	if ch != nil {
		attrs["passed"] = strconv.FormatBool(ch.Passed)
	}
	attrs["timeout"] = strconv.FormatBool(timedOut)
	return &types.Event{Type: EventTypeChallengeResolved, Attributes: attrs}
}
