package escrow

import (
	"math/big"
	"testing"
)

func mustChallenge(t *testing.T, engine *Engine, id [32]byte) {
	t.Helper()
	if err := engine.InitiateChallenge(id, challengerAddr); err != nil {
		t.Fatalf("initiate challenge: %v", err)
	}
}

func TestInitiateChallengeLocksStake(t *testing.T) {
	engine, state, custodian, clock := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	before := custodian.balanceOf(challengerAddr)

	mustChallenge(t, engine, id)

	esc, _ := engine.Get(id)
	if esc.Status != StatusChallenged {
		t.Fatalf("status = %s", esc.Status)
	}
	ch, err := engine.GetChallenge(id)
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	if ch.Status != ChallengeActive {
		t.Fatalf("challenge status = %s", ch.Status)
	}
	stake := engine.Params().ChallengeStake
	if ch.Stake.Cmp(stake) != 0 {
		t.Fatalf("stake = %s, want %s", ch.Stake, stake)
	}
	if ch.Deadline != clock.height+engine.Params().ChallengeWindow {
		t.Fatalf("deadline = %d", ch.Deadline)
	}
	if ch.RespondBy != clock.height+engine.Params().ResponseWindow {
		t.Fatalf("respondBy = %d", ch.RespondBy)
	}
	want := new(big.Int).Sub(before, stake)
	if got := custodian.balanceOf(challengerAddr); got.Cmp(want) != 0 {
		t.Fatalf("challenger balance = %s, want %s", got, want)
	}
	if state.stats[challengerAddr].ChallengesInitiated != 1 {
		t.Fatalf("challenges initiated = %d", state.stats[challengerAddr].ChallengesInitiated)
	}
}

func TestSellerCannotChallengeOwnEscrow(t *testing.T) {
	engine, _, custodian, _ := newTestEngine(t)
	custodian.credit(sellerAddr, 100_000_000)
	id := mustCreate(t, engine, 1000, 65)

	if err := engine.InitiateChallenge(id, sellerAddr); err != ErrSellerCannotChallenge {
		t.Fatalf("seller challenge: %v", err)
	}
	// The buyer is not the seller and may challenge.
	custodian.credit(buyerAddr, 100_000_000)
	if err := engine.InitiateChallenge(id, buyerAddr); err != nil {
		t.Fatalf("buyer challenge: %v", err)
	}
}

func TestChallengeRejectsDuplicateWhileOpen(t *testing.T) {
	engine, _, custodian, _ := newTestEngine(t)
	custodian.credit(buyerAddr, 100_000_000)
	id := mustCreate(t, engine, 1000, 65)
	mustChallenge(t, engine, id)

	if err := engine.InitiateChallenge(id, buyerAddr); err != ErrInvalidStatus {
		t.Fatalf("second challenge while open: %v", err)
	}
}

func TestChallengeCooldownBoundary(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	first := mustCreate(t, engine, 1000, 65)
	mustChallenge(t, engine, first)
	if err := engine.ResolveChallenge(first, oracleAddr, true); err != nil {
		t.Fatalf("resolve first challenge: %v", err)
	}

	second := mustCreate(t, engine, 2000, 65)
	cooldown := engine.Params().ChallengeCooldown

	clock.now += cooldown - 1
	if err := engine.InitiateChallenge(second, challengerAddr); err != ErrChallengeCooldown {
		t.Fatalf("challenge inside cooldown: %v", err)
	}
	clock.now++
	if err := engine.InitiateChallenge(second, challengerAddr); err != nil {
		t.Fatalf("challenge at cooldown expiry: %v", err)
	}
}

func TestRespondChallengeWindow(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	mustChallenge(t, engine, id)
	ch, _ := engine.GetChallenge(id)
	commitment := [32]byte{0xbe, 0xef}

	if err := engine.RespondChallenge(id, buyerAddr, commitment); err != ErrUnauthorizedCaller {
		t.Fatalf("non-seller response: %v", err)
	}
	if err := engine.RespondChallenge(id, sellerAddr, [32]byte{}); err != ErrInvalidCommitment {
		t.Fatalf("zero commitment: %v", err)
	}

	clock.height = ch.RespondBy + 1
	if err := engine.RespondChallenge(id, sellerAddr, commitment); err != ErrResponseWindowClosed {
		t.Fatalf("response after window: %v", err)
	}

	clock.height = ch.RespondBy
	if err := engine.RespondChallenge(id, sellerAddr, commitment); err != nil {
		t.Fatalf("response at window edge: %v", err)
	}
	ch, _ = engine.GetChallenge(id)
	if ch.Status != ChallengeResponded {
		t.Fatalf("challenge status = %s", ch.Status)
	}
	if ch.ResponseCommitment != commitment {
		t.Fatalf("commitment not recorded")
	}
	if err := engine.RespondChallenge(id, sellerAddr, commitment); err != ErrChallengeNotActive {
		t.Fatalf("double response: %v", err)
	}
}

func TestResolveChallengePassReactivates(t *testing.T) {
	engine, _, custodian, _ := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	before := custodian.balanceOf(challengerAddr)
	mustChallenge(t, engine, id)

	if err := engine.ResolveChallenge(id, buyerAddr, true); err != ErrUnauthorizedCaller {
		t.Fatalf("non-oracle resolve: %v", err)
	}
	if err := engine.ResolveChallenge(id, oracleAddr, true); err != nil {
		t.Fatalf("resolve pass: %v", err)
	}
	esc, _ := engine.Get(id)
	if esc.Status != StatusActive {
		t.Fatalf("status after pass = %s", esc.Status)
	}
	// Exactly the original stake returns, never more.
	if got := custodian.balanceOf(challengerAddr); got.Cmp(before) != 0 {
		t.Fatalf("challenger balance after pass = %s, want %s", got, before)
	}
	ch, _ := engine.GetChallenge(id)
	if ch.Status != ChallengeResolved || !ch.Passed {
		t.Fatalf("challenge record after pass: %+v", ch)
	}
	// The escrow is active again and releasable.
	if err := engine.Release(id, oracleAddr, 80); err != nil {
		t.Fatalf("release after passed challenge: %v", err)
	}
}

func TestResolveChallengeFailRefundsBuyer(t *testing.T) {
	engine, _, custodian, _ := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	stakeBefore := custodian.balanceOf(challengerAddr)
	mustChallenge(t, engine, id)

	if err := engine.ResolveChallenge(id, oracleAddr, false); err != nil {
		t.Fatalf("resolve fail: %v", err)
	}
	esc, _ := engine.Get(id)
	if esc.Status != StatusRefunded {
		t.Fatalf("status after fail = %s", esc.Status)
	}
	if got := custodian.balanceOf(buyerAddr); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("buyer balance after fail = %s", got)
	}
	if got := custodian.balanceOf(challengerAddr); got.Cmp(stakeBefore) != 0 {
		t.Fatalf("challenger balance after fail = %s", got)
	}
	if got := custodian.balanceOf(engine.Vault()); got.Sign() != 0 {
		t.Fatalf("vault residue = %s", got)
	}
}

func TestResolveChallengeDeadlineBoundary(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	mustChallenge(t, engine, id)
	ch, _ := engine.GetChallenge(id)

	clock.height = ch.Deadline + 1
	if err := engine.ResolveChallenge(id, oracleAddr, true); err != ErrChallengeDeadlinePassed {
		t.Fatalf("resolve past deadline: %v", err)
	}
	clock.height = ch.Deadline
	if err := engine.ResolveChallenge(id, oracleAddr, true); err != nil {
		t.Fatalf("resolve at deadline: %v", err)
	}
}

func TestClaimChallengeTimeout(t *testing.T) {
	engine, _, custodian, clock := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	stakeBefore := custodian.balanceOf(challengerAddr)
	mustChallenge(t, engine, id)
	ch, _ := engine.GetChallenge(id)

	clock.height = ch.Deadline
	if err := engine.ClaimChallengeTimeout(id, challengerAddr); err != ErrChallengeNotExpired {
		t.Fatalf("claim at deadline: %v", err)
	}
	clock.height = ch.Deadline + 1
	if err := engine.ClaimChallengeTimeout(id, buyerAddr); err != ErrUnauthorizedCaller {
		t.Fatalf("claim by non-challenger: %v", err)
	}
	if err := engine.ClaimChallengeTimeout(id, challengerAddr); err != nil {
		t.Fatalf("claim past deadline: %v", err)
	}
	esc, _ := engine.Get(id)
	if esc.Status != StatusRefunded {
		t.Fatalf("status after timeout = %s", esc.Status)
	}
	if got := custodian.balanceOf(buyerAddr); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("buyer balance after timeout = %s", got)
	}
	if got := custodian.balanceOf(challengerAddr); got.Cmp(stakeBefore) != 0 {
		t.Fatalf("challenger balance after timeout = %s", got)
	}
}

func TestDisputeFromChallengedReturnsStake(t *testing.T) {
	engine, _, custodian, _ := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	stakeBefore := custodian.balanceOf(challengerAddr)
	mustChallenge(t, engine, id)

	if err := engine.Dispute(id, buyerAddr, []byte("escalating")); err != nil {
		t.Fatalf("dispute from challenged: %v", err)
	}
	esc, _ := engine.Get(id)
	if esc.Status != StatusDisputed {
		t.Fatalf("status = %s", esc.Status)
	}
	if got := custodian.balanceOf(challengerAddr); got.Cmp(stakeBefore) != 0 {
		t.Fatalf("challenger balance after escalation = %s", got)
	}
	ch, _ := engine.GetChallenge(id)
	if ch.Status.Open() {
		t.Fatalf("challenge must close when the dispute pre-empts it")
	}
	if err := engine.ResolveChallenge(id, oracleAddr, true); err != ErrInvalidStatus {
		t.Fatalf("resolve after escalation: %v", err)
	}
}

func TestResolveChallengeFailPayoutAllOrNothing(t *testing.T) {
	engine, _, custodian, _ := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	stakeBefore := custodian.balanceOf(challengerAddr)
	mustChallenge(t, engine, id)
	stake := engine.Params().ChallengeStake
	locked := new(big.Int).Add(stake, big.NewInt(1000))

	// The custodian rejects the buyer-refund leg. The whole payout must
	// abort: no stake moves, nothing changes, every exit path stays open.
	custodian.rejectPayee = buyerAddr
	if err := engine.ResolveChallenge(id, oracleAddr, false); err != ErrTransferFailed {
		t.Fatalf("resolve with rejected refund leg: %v", err)
	}
	esc, _ := engine.Get(id)
	if esc.Status != StatusChallenged {
		t.Fatalf("status after aborted resolve = %s", esc.Status)
	}
	ch, _ := engine.GetChallenge(id)
	if !ch.Status.Open() {
		t.Fatalf("challenge must stay open after aborted resolve")
	}
	want := new(big.Int).Sub(stakeBefore, stake)
	if got := custodian.balanceOf(challengerAddr); got.Cmp(want) != 0 {
		t.Fatalf("challenger balance after aborted resolve = %s, want %s", got, want)
	}
	if got := custodian.balanceOf(engine.Vault()); got.Cmp(locked) != 0 {
		t.Fatalf("vault after aborted resolve = %s, want %s", got, locked)
	}

	// Once the custodian accepts again, the retry settles in full.
	custodian.rejectPayee = [20]byte{}
	if err := engine.ResolveChallenge(id, oracleAddr, false); err != nil {
		t.Fatalf("retry resolve: %v", err)
	}
	if got := custodian.balanceOf(buyerAddr); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("buyer balance after retry = %s", got)
	}
	if got := custodian.balanceOf(challengerAddr); got.Cmp(stakeBefore) != 0 {
		t.Fatalf("challenger balance after retry = %s", got)
	}
	if got := custodian.balanceOf(engine.Vault()); got.Sign() != 0 {
		t.Fatalf("vault residue after retry = %s", got)
	}
}

func TestChallengeRequiresSufficientStake(t *testing.T) {
	engine, _, custodian, _ := newTestEngine(t)
	id := mustCreate(t, engine, 1000, 65)
	poor := [20]byte{0x07}
	custodian.credit(poor, 1)

	if err := engine.InitiateChallenge(id, poor); err != ErrTransferFailed {
		t.Fatalf("underfunded challenger: %v", err)
	}
	esc, _ := engine.Get(id)
	if esc.Status != StatusActive {
		t.Fatalf("failed stake pull must leave escrow active, status = %s", esc.Status)
	}
}
