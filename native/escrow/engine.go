package escrow

import (
	"math/big"
	"sync"
	"time"

	"custodia/core/events"
	"custodia/core/types"
	"custodia/native/fees"
)

// Payment is one leg of a payout from the ledger's custody account.
type Payment struct {
	To     [20]byte
	Amount *big.Int
}

// AssetCustodian is the transferable-balance primitive the ledger moves funds
// through. Every operation signals failure with a boolean rather than an
// error: the ledger checks every result and aborts the whole operation on
// false, never assuming success. Transfer debits the ledger's own vault.
// TransferBatch settles all legs or none of them; the ledger relies on that
// for multi-recipient payouts, so a rejected leg can never leave the vault
// partially drained with no matching state transition.
type AssetCustodian interface {
	Transfer(to [20]byte, amount *big.Int) bool
	TransferFrom(from, to [20]byte, amount *big.Int) bool
	TransferBatch(legs []Payment) bool
}

// engineState is the persistence surface the engine requires. Every method is
// invoked inside the per-escrow critical section of a single operation, so
// implementations need no cross-record transaction support of their own.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowIndexAdd(buyer, seller [20]byte, id [32]byte) error

	ChallengePut(id [32]byte, c *Challenge) error
	ChallengeGet(id [32]byte) (*Challenge, bool)
	ChallengeDelete(id [32]byte) error

	DisputePut(id [32]byte, d *Dispute) error
	DisputeGet(id [32]byte) (*Dispute, bool)

	ConsentGet(id [32]byte) (Consent, bool)
	ConsentPut(id [32]byte, c Consent) error
	ConsentDelete(id [32]byte) error

	AggregatesGet() (Aggregates, error)
	AggregatesPut(Aggregates) error
	AgentStatsGet(addr [20]byte) (AgentStats, error)
	AgentStatsPut(addr [20]byte, stats AgentStats) error
	LastChallengeGet(addr [20]byte) (int64, bool)
	LastChallengePut(addr [20]byte, ts int64) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine owns escrow records, fund custody and the primary lifecycle. It runs
// in a fully serialized execution model: each public operation acquires a
// non-blocking critical section keyed by escrow id, so a custodian that calls
// back into the ledger mid-transfer fails with ErrReentrantCall instead of
// observing a half-applied record.
type Engine struct {
	state     engineState
	custodian AssetCustodian
	vault     [20]byte
	emitter   events.Emitter
	oracle    [20]byte
	arbiter   [20]byte
	feePolicy fees.Policy
	params    Params
	nowFn     func() int64
	heightFn  func() uint64

	mu    sync.Mutex
	locks map[[32]byte]*sync.Mutex
}

// DefaultVault is the ledger custody account presented to the custodian when
// no explicit vault address is configured.
var DefaultVault = [20]byte{19: 0x01}

// NewEngine creates an engine with default parameters and a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		vault:    DefaultVault,
		emitter:  events.NoopEmitter{},
		params:   DefaultParams(),
		nowFn:    func() int64 { return time.Now().Unix() },
		heightFn: func() uint64 { return 0 },
		locks:    make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the persistence backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustodian configures the asset custodian funds move through.
func (e *Engine) SetCustodian(c AssetCustodian) { e.custodian = c }

// SetVault configures the custody account TransferFrom pulls into. Custodian
// implementations pay out of the same account on Transfer.
func (e *Engine) SetVault(addr [20]byte) {
	if addr == ([20]byte{}) {
		e.vault = DefaultVault
		return
	}
	e.vault = addr
}

// Vault returns the configured ledger custody address.
func (e *Engine) Vault() [20]byte { return e.vault }

// SetOracle configures the address allowed to call Release and
// ResolveChallenge. Rotation goes through the timelock administration.
func (e *Engine) SetOracle(addr [20]byte) { e.oracle = addr }

// Oracle returns the currently configured oracle address.
func (e *Engine) Oracle() [20]byte { return e.oracle }

// SetArbiter configures the emergency authority allowed to resolve disputes.
func (e *Engine) SetArbiter(addr [20]byte) { e.arbiter = addr }

// SetFeePolicy configures the release fee. The policy must respect the hard
// cap; zero-rate or zero-recipient policies degrade to no fee.
func (e *Engine) SetFeePolicy(policy fees.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	e.feePolicy = policy
	return nil
}

// FeePolicy returns the active fee policy.
func (e *Engine) FeePolicy() fees.Policy { return e.feePolicy }

// SetParams replaces the protocol parameters after validation.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	return nil
}

// Params returns the active protocol parameters.
func (e *Engine) Params() Params { return e.params }

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the wall clock. Nil restores the default. The wall
// clock governs expiry, the oracle-timeout fallback and the challenge
// cooldown.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetHeightFunc overrides the step counter governing challenge deadlines.
func (e *Engine) SetHeightFunc(height func() uint64) {
	if height == nil {
		e.heightFn = func() uint64 { return 0 }
		return
	}
	e.heightFn = height
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) height() uint64 {
	if e == nil || e.heightFn == nil {
		return 0
	}
	return e.heightFn()
}

// lockEscrow acquires the non-blocking critical section for the id. A failed
// acquisition means another operation on the id is in flight, which in the
// serialized execution model can only be a reentrant custodian callback.
func (e *Engine) lockEscrow(id [32]byte) (func(), error) {
	e.mu.Lock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	e.mu.Unlock()
	if !lock.TryLock() {
		return nil, ErrReentrantCall
	}
	return lock.Unlock, nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.custodian == nil {
		return errNilCustodian
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Create validates the escrow definition, pulls the amount from the buyer
// into custody and persists an Active record. No partial state survives a
// failed custodian transfer: every write happens after the transfer succeeds.
func (e *Engine) Create(buyer, seller [20]byte, amount *big.Int, jobHash [32]byte, threshold uint8) ([32]byte, error) {
	var zero [32]byte
	if err := e.ready(); err != nil {
		return zero, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return zero, ErrInvalidAmount
	}
	if seller == ([20]byte{}) || seller == buyer || buyer == ([20]byte{}) {
		return zero, ErrInvalidSeller
	}
	if threshold < MinTrustThreshold || threshold > MaxTrustThreshold {
		return zero, ErrInvalidThreshold
	}
	agg, err := e.state.AggregatesGet()
	if err != nil {
		return zero, err
	}
	agg = agg.Normalize()
	now := e.now()
	id := ComputeID(buyer, seller, amt, jobHash, now, agg.EscrowCount)
	if _, exists := e.state.EscrowGet(id); exists {
		return zero, ErrEscrowExists
	}
	unlock, err := e.lockEscrow(id)
	if err != nil {
		return zero, err
	}
	defer unlock()
	if !e.custodian.TransferFrom(buyer, e.vault, amt) {
		return zero, ErrTransferFailed
	}
	esc := &Escrow{
		ID:             id,
		Buyer:          buyer,
		Seller:         seller,
		Amount:         amt,
		JobHash:        jobHash,
		TrustThreshold: threshold,
		CreatedAt:      now,
		ExpiresAt:      now + e.params.DefaultExpiry,
		Status:         StatusActive,
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return zero, err
	}
	if err := e.state.EscrowIndexAdd(buyer, seller, id); err != nil {
		return zero, err
	}
	agg.EscrowCount++
	agg.TotalVolume = new(big.Int).Add(agg.TotalVolume, amt)
	if err := e.state.AggregatesPut(agg); err != nil {
		return zero, err
	}
	stats, err := e.state.AgentStatsGet(seller)
	if err != nil {
		return zero, err
	}
	stats.TotalEscrows++
	if err := e.state.AgentStatsPut(seller, stats); err != nil {
		return zero, err
	}
	e.emit(NewCreatedEvent(esc))
	return id, nil
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

// Get returns the escrow record by id.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// GetChallenge returns the challenge attached to the escrow id.
func (e *Engine) GetChallenge(id [32]byte) (*Challenge, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ch, ok := e.state.ChallengeGet(id)
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return ch.Clone(), nil
}

// GetDispute returns the dispute attached to the escrow id.
func (e *Engine) GetDispute(id [32]byte) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	d, ok := e.state.DisputeGet(id)
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return d.Clone(), nil
}

// Release settles an active escrow in favour of the seller once the oracle
// reports a trust score at or above the threshold. The protocol fee is split
// off the payout, never added on top.
func (e *Engine) Release(id [32]byte, caller [20]byte, trustScore uint8) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock, err := e.lockEscrow(id)
	if err != nil {
		return err
	}
	defer unlock()
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != e.oracle || e.oracle == ([20]byte{}) {
		return ErrUnauthorizedCaller
	}
	if esc.Status != StatusActive {
		return ErrInvalidStatus
	}
	if e.now() > esc.ExpiresAt {
		return ErrEscrowExpired
	}
	if trustScore < esc.TrustThreshold {
		return ErrScoreBelowThreshold
	}
	return e.finalizeRelease(esc, caller)
}

// finalizeRelease performs the fee split, the payout and the terminal state
// commit. Callers hold the escrow lock and have verified eligibility. The
// payout runs as a single all-or-nothing batch before the status write, so a
// custodian failure aborts with the record untouched and the vault intact;
// the reentrancy lock closes the window the ordering would otherwise open.
func (e *Engine) finalizeRelease(esc *Escrow, actor [20]byte) error {
	fee, net := e.feePolicy.Apply(esc.Amount)
	legs := make([]Payment, 0, 2)
	if net.Sign() > 0 {
		legs = append(legs, Payment{To: esc.Seller, Amount: net})
	}
	if fee.Sign() > 0 {
		legs = append(legs, Payment{To: e.feePolicy.Recipient, Amount: fee})
	}
	if !e.custodian.TransferBatch(legs) {
		return ErrTransferFailed
	}
	esc.Status = StatusReleased
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		agg, err := e.state.AggregatesGet()
		if err != nil {
			return err
		}
		agg = agg.Normalize()
		agg.TotalFeesCollected = new(big.Int).Add(agg.TotalFeesCollected, fee)
		if err := e.state.AggregatesPut(agg); err != nil {
			return err
		}
	}
	stats, err := e.state.AgentStatsGet(esc.Seller)
	if err != nil {
		return err
	}
	stats.CompletedEscrows++
	if err := e.state.AgentStatsPut(esc.Seller, stats); err != nil {
		return err
	}
	e.cleanupTerminal(esc.ID)
	e.emit(NewReleasedEvent(esc, actor, fee, net))
	return nil
}

// cleanupTerminal removes sub-records once the escrow has reached a terminal
// status and its final fund movement has executed. Housekeeping only: the
// escrow record itself is retained for queries and indexers.
func (e *Engine) cleanupTerminal(id [32]byte) {
	_ = e.state.ChallengeDelete(id)
	_ = e.state.ConsentDelete(id)
}

// ReleaseWithConsent records the caller's consent to release without an
// oracle verdict. It is a two-key lock, not a unilateral override: funds move
// only once both parties have independently consented, and only after the
// oracle timeout has elapsed since creation.
func (e *Engine) ReleaseWithConsent(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock, err := e.lockEscrow(id)
	if err != nil {
		return err
	}
	defer unlock()
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Buyer && caller != esc.Seller {
		return ErrUnauthorizedCaller
	}
	if esc.Status != StatusActive {
		return ErrInvalidStatus
	}
	if e.now() < esc.CreatedAt+e.params.OracleTimeout {
		return ErrConsentNotOpen
	}
	consent, _ := e.state.ConsentGet(id)
	if caller == esc.Buyer {
		consent.Buyer = true
	} else {
		consent.Seller = true
	}
	if !consent.Complete() {
		if err := e.state.ConsentPut(id, consent); err != nil {
			return err
		}
		e.emit(NewConsentEvent(esc, caller))
		return nil
	}
	return e.finalizeRelease(esc, caller)
}

// Refund returns the full amount to the buyer. No fee applies on refunds.
func (e *Engine) Refund(id [32]byte, caller [20]byte, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock, err := e.lockEscrow(id)
	if err != nil {
		return err
	}
	defer unlock()
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Buyer {
		return ErrUnauthorizedCaller
	}
	if esc.Status != StatusActive {
		return ErrInvalidStatus
	}
	if err := e.refundEscrow(esc); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc, caller, reason))
	return nil
}

// ClaimExpired refunds an escrow whose expiry deadline has passed, so expired
// escrows cannot remain a permanent liability of the ledger.
func (e *Engine) ClaimExpired(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock, err := e.lockEscrow(id)
	if err != nil {
		return err
	}
	defer unlock()
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Buyer {
		return ErrUnauthorizedCaller
	}
	if esc.Status != StatusActive {
		return ErrInvalidStatus
	}
	if e.now() <= esc.ExpiresAt {
		return ErrEscrowNotExpired
	}
	if err := e.refundEscrow(esc); err != nil {
		return err
	}
	e.emit(NewExpiredEvent(esc, caller))
	return nil
}

// refundEscrow moves the full locked amount back to the buyer and commits the
// Refunded terminal status. Callers hold the escrow lock.
func (e *Engine) refundEscrow(esc *Escrow) error {
	amount := cloneBigInt(esc.Amount)
	if !e.custodian.Transfer(esc.Buyer, amount) {
		return ErrTransferFailed
	}
	esc.Status = StatusRefunded
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.cleanupTerminal(esc.ID)
	return nil
}

// Dispute escalates an escrow out of the automatic release logic. Either
// party may dispute an Active or Challenged escrow; an attached open
// challenge terminates with its stake returned to the challenger before the
// escrow flips to Disputed.
func (e *Engine) Dispute(id [32]byte, caller [20]byte, evidence []byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock, err := e.lockEscrow(id)
	if err != nil {
		return err
	}
	defer unlock()
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Buyer && caller != esc.Seller {
		return ErrUnauthorizedCaller
	}
	if esc.Status != StatusActive && esc.Status != StatusChallenged {
		return ErrInvalidStatus
	}
	if len(evidence) > e.params.MaxEvidenceBytes {
		return ErrEvidenceTooLarge
	}
	if esc.Status == StatusChallenged {
		if err := e.settleChallengeStake(id); err != nil {
			return err
		}
	}
	dispute := &Dispute{
		Initiator: caller,
		Evidence:  append([]byte(nil), evidence...),
		CreatedAt: e.now(),
	}
	if err := e.state.DisputePut(id, dispute); err != nil {
		return err
	}
	esc.Status = StatusDisputed
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc, caller))
	return nil
}

// settleChallengeStake returns the stake of an open challenge to its
// challenger and marks the challenge resolved without a verdict. Used when a
// dispute pre-empts the verification sub-protocol.
func (e *Engine) settleChallengeStake(id [32]byte) error {
	ch, ok := e.state.ChallengeGet(id)
	if !ok || !ch.Status.Open() {
		return nil
	}
	if !e.custodian.Transfer(ch.Challenger, cloneBigInt(ch.Stake)) {
		return ErrTransferFailed
	}
	ch.Status = ChallengeResolved
	ch.Passed = false
	return e.state.ChallengePut(id, ch)
}

// ResolveDispute settles a disputed escrow by emergency-authority decision,
// paying the full amount to the winner with no fee. The narrow escape hatch
// is deliberate: it is the only path where an operator, rather than
// economics, decides the outcome.
func (e *Engine) ResolveDispute(id [32]byte, caller, winner [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	unlock, err := e.lockEscrow(id)
	if err != nil {
		return err
	}
	defer unlock()
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != e.arbiter || e.arbiter == ([20]byte{}) {
		return ErrUnauthorizedCaller
	}
	if esc.Status != StatusDisputed {
		return ErrInvalidStatus
	}
	dispute, ok := e.state.DisputeGet(id)
	if !ok {
		return ErrDisputeNotFound
	}
	if dispute.Resolved {
		return ErrDisputeResolved
	}
	if winner != esc.Buyer && winner != esc.Seller {
		return ErrInvalidWinner
	}
	amount := cloneBigInt(esc.Amount)
	if !e.custodian.Transfer(winner, amount) {
		return ErrTransferFailed
	}
	if winner == esc.Seller {
		esc.Status = StatusReleased
	} else {
		esc.Status = StatusRefunded
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	dispute.Resolved = true
	dispute.Winner = winner
	if err := e.state.DisputePut(id, dispute); err != nil {
		return err
	}
	e.cleanupTerminal(id)
	e.emit(NewDisputeResolvedEvent(esc, caller, winner))
	return nil
}
