package escrow

// InitiateChallenge opens the staked identity-verification sub-protocol on an
// active escrow. Anyone but the seller may challenge, subject to a per-address
// cooldown; the fixed stake is pulled into custody and the escrow flips to
// Challenged until the oracle resolves or the deadline passes.
func (e *Engine) InitiateChallenge(id [32]byte, challenger [20]byte) error {
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
	if challenger == ([20]byte{}) {
		return ErrUnauthorizedCaller
	}
	if challenger == esc.Seller {
		return ErrSellerCannotChallenge
	}
	if esc.Status != StatusActive {
		return ErrInvalidStatus
	}
	if existing, ok := e.state.ChallengeGet(id); ok && existing.Status.Open() {
		return ErrChallengePending
	}
	now := e.now()
	if last, ok := e.state.LastChallengeGet(challenger); ok && now < last+e.params.ChallengeCooldown {
		return ErrChallengeCooldown
	}
	stake := cloneBigInt(e.params.ChallengeStake)
	if !e.custodian.TransferFrom(challenger, e.vault, stake) {
		return ErrTransferFailed
	}
	height := e.height()
	ch := &Challenge{
		Challenger: challenger,
		Stake:      stake,
		Deadline:   height + e.params.ChallengeWindow,
		RespondBy:  height + e.params.ResponseWindow,
		Status:     ChallengeActive,
	}
	if err := e.state.ChallengePut(id, ch); err != nil {
		return err
	}
	esc.Status = StatusChallenged
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.state.LastChallengePut(challenger, now); err != nil {
		return err
	}
	stats, err := e.state.AgentStatsGet(challenger)
	if err != nil {
		return err
	}
	stats.ChallengesInitiated++
	if err := e.state.AgentStatsPut(challenger, stats); err != nil {
		return err
	}
	e.emit(NewChallengeInitiatedEvent(esc, ch))
	return nil
}

// RespondChallenge records the seller's non-zero response commitment. The
// response window closes strictly before the challenge deadline so the
// verifier always has reaction time between a late response and timeout.
func (e *Engine) RespondChallenge(id [32]byte, caller [20]byte, commitment [32]byte) error {
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
	if caller != esc.Seller {
		return ErrUnauthorizedCaller
	}
	ch, ok := e.state.ChallengeGet(id)
	if !ok {
		return ErrChallengeNotFound
	}
	if ch.Status != ChallengeActive {
		return ErrChallengeNotActive
	}
	if e.height() > ch.RespondBy {
		return ErrResponseWindowClosed
	}
	if commitment == ([32]byte{}) {
		return ErrInvalidCommitment
	}
	ch.Status = ChallengeResponded
	ch.ResponseCommitment = commitment
	if err := e.state.ChallengePut(id, ch); err != nil {
		return err
	}
	e.emit(NewChallengeRespondedEvent(esc, ch))
	return nil
}

// ResolveChallenge records the oracle's verdict before the deadline. The
// stake comes back to the challenger on every outcome, never more: a pass
// reactivates the escrow, a fail refunds the buyer in full.
func (e *Engine) ResolveChallenge(id [32]byte, caller [20]byte, passed bool) error {
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
	if esc.Status != StatusChallenged {
		return ErrInvalidStatus
	}
	ch, ok := e.state.ChallengeGet(id)
	if !ok {
		return ErrChallengeNotFound
	}
	if !ch.Status.Open() {
		return ErrChallengeNotActive
	}
	if e.height() > ch.Deadline {
		return ErrChallengeDeadlinePassed
	}
	return e.settleChallenge(esc, ch, caller, passed, false)
}

// ClaimChallengeTimeout lets the challenger force the fail-path payout once
// the deadline has passed without a verdict, so a dead oracle cannot trap
// either the stake or the escrowed funds.
func (e *Engine) ClaimChallengeTimeout(id [32]byte, caller [20]byte) error {
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
	if esc.Status != StatusChallenged {
		return ErrInvalidStatus
	}
	ch, ok := e.state.ChallengeGet(id)
	if !ok {
		return ErrChallengeNotFound
	}
	if caller != ch.Challenger {
		return ErrUnauthorizedCaller
	}
	if !ch.Status.Open() {
		return ErrChallengeNotActive
	}
	if e.height() <= ch.Deadline {
		return ErrChallengeNotExpired
	}
	return e.settleChallenge(esc, ch, caller, false, true)
}

// settleChallenge applies a challenge verdict. Exactly the original stake
// returns to the challenger in every branch; the fail path additionally
// refunds the buyer in full and terminates the escrow. The fail-path payout
// is a single all-or-nothing batch: a rejected leg aborts with the vault and
// the challenge untouched, leaving every exit path still available.
func (e *Engine) settleChallenge(esc *Escrow, ch *Challenge, actor [20]byte, passed, timedOut bool) error {
	if passed {
		if !e.custodian.Transfer(ch.Challenger, cloneBigInt(ch.Stake)) {
			return ErrTransferFailed
		}
		ch.Status = ChallengeResolved
		ch.Passed = true
		if err := e.state.ChallengePut(esc.ID, ch); err != nil {
			return err
		}
		esc.Status = StatusActive
		if err := e.state.EscrowPut(esc); err != nil {
			return err
		}
		e.emit(NewChallengeResolvedEvent(esc, ch, actor, timedOut))
		return nil
	}
	legs := []Payment{
		{To: ch.Challenger, Amount: cloneBigInt(ch.Stake)},
		{To: esc.Buyer, Amount: cloneBigInt(esc.Amount)},
	}
	if !e.custodian.TransferBatch(legs) {
		return ErrTransferFailed
	}
	ch.Status = ChallengeResolved
	ch.Passed = false
	if err := e.state.ChallengePut(esc.ID, ch); err != nil {
		return err
	}
	esc.Status = StatusRefunded
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.cleanupTerminal(esc.ID)
	e.emit(NewChallengeResolvedEvent(esc, ch, actor, timedOut))
	return nil
}
