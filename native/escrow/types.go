package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status enumerates the lifecycle states of an escrow. Released and Refunded
// are terminal: no fund-moving operation may ever succeed afterwards.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusReleased
	StatusRefunded
	StatusDisputed
	StatusChallenged
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusReleased, StatusRefunded, StatusDisputed, StatusChallenged:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further fund movement.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// String returns the canonical lowercase label used in events and RPC output.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	case StatusChallenged:
		return "challenged"
	default:
		return "unknown"
	}
}

// Trust threshold bounds. Scores and thresholds share a 0-100 integer scale.
const (
	MinTrustThreshold uint8 = 50
	MaxTrustThreshold uint8 = 100
)

// Escrow is a record locking the buyer's funds pending a release or refund
// condition. The identifier is content-derived: the keccak256 hash of both
// parties, the amount, the job descriptor hash, the creation time and the
// global creation counter, so ids are unique without an externally guessable
// sequence.
type Escrow struct {
	ID             [32]byte
	Buyer          [20]byte
	Seller         [20]byte
	Amount         *big.Int
	JobHash        [32]byte
	TrustThreshold uint8
	CreatedAt      int64
	ExpiresAt      int64
	Status         Status
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Sanitize validates the stored form of an escrow, returning a normalised
// clone. It guards persistence rather than business rules: lifecycle checks
// live in the engine.
func (e *Escrow) Sanitize() (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := e.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if clone.TrustThreshold < MinTrustThreshold || clone.TrustThreshold > MaxTrustThreshold {
		return nil, fmt.Errorf("escrow: trust threshold out of range: %d", clone.TrustThreshold)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	return clone, nil
}

// ComputeID derives the content-addressed escrow identifier.
func ComputeID(buyer, seller [20]byte, amount *big.Int, jobHash [32]byte, createdAt int64, counter uint64) [32]byte {
	var amountBytes [32]byte
	if amount != nil && amount.Sign() > 0 {
		amount.FillBytes(amountBytes[:])
	}
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(createdAt))
	binary.BigEndian.PutUint64(tail[8:], counter)
	return ethcrypto.Keccak256Hash(buyer[:], seller[:], amountBytes[:], jobHash[:], tail[:])
}

// ChallengeStatus enumerates the states of the identity-verification
// sub-protocol attached to an escrow.
type ChallengeStatus uint8

const (
	ChallengeNone ChallengeStatus = iota
	ChallengeActive
	ChallengeResponded
	ChallengeResolved
)

// Open reports whether the challenge still awaits resolution.
func (s ChallengeStatus) Open() bool {
	return s == ChallengeActive || s == ChallengeResponded
}

// String returns the canonical lowercase label.
func (s ChallengeStatus) String() string {
	switch s {
	case ChallengeNone:
		return "none"
	case ChallengeActive:
		return "active"
	case ChallengeResponded:
		return "responded"
	case ChallengeResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Challenge is a staked, time-bounded identity verification forced on the
// seller. Deadlines run on the step-counter clock rather than wall time: the
// counter is harder to manipulate over short horizons. RespondBy is strictly
// earlier than Deadline so the verifier has guaranteed reaction time after a
// response lands.
type Challenge struct {
	Challenger         [20]byte
	Stake              *big.Int
	Deadline           uint64
	RespondBy          uint64
	Status             ChallengeStatus
	Passed             bool
	ResponseCommitment [32]byte
}

// Clone returns a deep copy of the challenge record.
func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Stake != nil {
		clone.Stake = new(big.Int).Set(c.Stake)
	} else {
		clone.Stake = big.NewInt(0)
	}
	return &clone
}

// Dispute is the escalation record closed only by the emergency authority.
type Dispute struct {
	Initiator [20]byte
	Evidence  []byte
	CreatedAt int64
	Resolved  bool
	Winner    [20]byte
}

// Clone returns a deep copy of the dispute record.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Evidence = append([]byte(nil), d.Evidence...)
	return &clone
}

// Consent tracks the two-key release fallback: both parties must consent
// independently before funds move.
type Consent struct {
	Buyer  bool
	Seller bool
}

// Complete reports whether both keys have turned.
func (c Consent) Complete() bool { return c.Buyer && c.Seller }

// Aggregates carries the global protocol counters. EscrowCount doubles as the
// creation counter folded into escrow ids.
type Aggregates struct {
	EscrowCount        uint64
	TotalVolume        *big.Int
	TotalFeesCollected *big.Int
}

// Normalize ensures the big.Int fields are non-nil.
func (a Aggregates) Normalize() Aggregates {
	if a.TotalVolume == nil {
		a.TotalVolume = big.NewInt(0)
	}
	if a.TotalFeesCollected == nil {
		a.TotalFeesCollected = big.NewInt(0)
	}
	return a
}

// AgentStats tracks per-agent escrow participation. CompletedEscrows over
// TotalEscrows drives the completion-rate view in basis points.
type AgentStats struct {
	TotalEscrows        uint64
	CompletedEscrows    uint64
	ChallengesInitiated uint64
}

// Params bundles the tunable protocol windows and the fixed challenge stake.
type Params struct {
	// DefaultExpiry is the wall-clock lifetime of a new escrow in seconds.
	DefaultExpiry int64
	// OracleTimeout is the wall-clock delay in seconds after creation before
	// the two-key consent fallback opens.
	OracleTimeout int64
	// ChallengeStake is the fixed amount a challenger must lock. Fixed by
	// design: every terminal path returns exactly this stake, never more.
	ChallengeStake *big.Int
	// ChallengeWindow is the number of steps until a challenge deadline.
	ChallengeWindow uint64
	// ResponseWindow is the number of steps the seller has to respond. It
	// must be strictly smaller than ChallengeWindow.
	ResponseWindow uint64
	// ChallengeCooldown is the wall-clock delay in seconds an address must
	// wait between challenge initiations.
	ChallengeCooldown int64
	// MaxEvidenceBytes bounds dispute evidence to guard against storage
	// griefing.
	MaxEvidenceBytes int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		DefaultExpiry:     30 * 24 * 60 * 60,
		OracleTimeout:     7 * 24 * 60 * 60,
		ChallengeStake:    big.NewInt(10_000_000),
		ChallengeWindow:   100,
		ResponseWindow:    60,
		ChallengeCooldown: 24 * 60 * 60,
		MaxEvidenceBytes:  1024,
	}
}

// Validate checks the parameter set for internal consistency.
func (p Params) Validate() error {
	if p.DefaultExpiry <= 0 {
		return fmt.Errorf("escrow: default expiry must be positive")
	}
	if p.OracleTimeout <= 0 {
		return fmt.Errorf("escrow: oracle timeout must be positive")
	}
	if p.ChallengeStake == nil || p.ChallengeStake.Sign() <= 0 {
		return fmt.Errorf("escrow: challenge stake must be positive")
	}
	if p.ChallengeWindow == 0 {
		return fmt.Errorf("escrow: challenge window must be positive")
	}
	if p.ResponseWindow == 0 || p.ResponseWindow >= p.ChallengeWindow {
		return fmt.Errorf("escrow: response window must be positive and shorter than the challenge window")
	}
	if p.ChallengeCooldown < 0 {
		return fmt.Errorf("escrow: challenge cooldown must not be negative")
	}
	if p.MaxEvidenceBytes <= 0 {
		return fmt.Errorf("escrow: evidence bound must be positive")
	}
	return nil
}
