package state

import (
	"math/big"
	"testing"

	"custodia/native/escrow"
	"custodia/native/timelock"
	"custodia/storage"
)

var (
	alice = [20]byte{0x01}
	bob   = [20]byte{0x02}
	vault = [20]byte{0x03}
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestCustodianMoveSemantics(t *testing.T) {
	mgr := newTestManager(t)
	custodian := mgr.Custodian(vault)
	if err := mgr.Credit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if custodian.TransferFrom(alice, vault, big.NewInt(101)) {
		t.Fatalf("overdraw must fail")
	}
	if got, _ := mgr.Balance(alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance touched by failed move: %s", got)
	}
	if custodian.TransferFrom(alice, vault, nil) {
		t.Fatalf("nil amount must fail")
	}
	if custodian.TransferFrom(alice, vault, big.NewInt(-1)) {
		t.Fatalf("negative amount must fail")
	}
	if !custodian.TransferFrom(alice, vault, big.NewInt(0)) {
		t.Fatalf("zero amount is a no-op success")
	}

	if !custodian.TransferFrom(alice, vault, big.NewInt(60)) {
		t.Fatalf("funded move failed")
	}
	if !custodian.Transfer(bob, big.NewInt(25)) {
		t.Fatalf("vault payout failed")
	}
	aliceBal, _ := mgr.Balance(alice)
	bobBal, _ := mgr.Balance(bob)
	vaultBal, _ := mgr.Balance(vault)
	if aliceBal.Cmp(big.NewInt(40)) != 0 || bobBal.Cmp(big.NewInt(25)) != 0 || vaultBal.Cmp(big.NewInt(35)) != 0 {
		t.Fatalf("balances alice=%s bob=%s vault=%s", aliceBal, bobBal, vaultBal)
	}
}

func TestCustodianBatchAllOrNothing(t *testing.T) {
	mgr := newTestManager(t)
	custodian := mgr.Custodian(vault)
	if err := mgr.Credit(vault, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// Total exceeds the vault balance: neither leg may land.
	legs := []escrow.Payment{
		{To: alice, Amount: big.NewInt(60)},
		{To: bob, Amount: big.NewInt(50)},
	}
	if custodian.TransferBatch(legs) {
		t.Fatalf("underfunded batch must fail")
	}
	for _, addr := range [][20]byte{alice, bob} {
		if got, _ := mgr.Balance(addr); got.Sign() != 0 {
			t.Fatalf("leg landed from failed batch: %s", got)
		}
	}
	if got, _ := mgr.Balance(vault); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault touched by failed batch: %s", got)
	}

	if custodian.TransferBatch([]escrow.Payment{{To: alice, Amount: nil}}) {
		t.Fatalf("nil leg must fail")
	}
	if !custodian.TransferBatch(nil) {
		t.Fatalf("empty batch is a no-op success")
	}

	legs[1].Amount = big.NewInt(40)
	if !custodian.TransferBatch(legs) {
		t.Fatalf("funded batch failed")
	}
	aliceBal, _ := mgr.Balance(alice)
	bobBal, _ := mgr.Balance(bob)
	vaultBal, _ := mgr.Balance(vault)
	if aliceBal.Cmp(big.NewInt(60)) != 0 || bobBal.Cmp(big.NewInt(40)) != 0 || vaultBal.Sign() != 0 {
		t.Fatalf("balances alice=%s bob=%s vault=%s", aliceBal, bobBal, vaultBal)
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	esc := &escrow.Escrow{
		ID:             [32]byte{0x01},
		Buyer:          alice,
		Seller:         bob,
		Amount:         big.NewInt(500),
		TrustThreshold: 65,
		CreatedAt:      100,
		ExpiresAt:      200,
		Status:         escrow.StatusActive,
	}
	if err := mgr.EscrowPut(esc); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, ok := mgr.EscrowGet(esc.ID)
	if !ok {
		t.Fatalf("escrow not found")
	}
	if loaded.Amount.Cmp(esc.Amount) != 0 || loaded.Status != escrow.StatusActive {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	// Mutating the returned copy must not affect the stored record.
	loaded.Amount.SetInt64(1)
	again, _ := mgr.EscrowGet(esc.ID)
	if again.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("stored record aliased by returned copy")
	}
}

func TestEscrowPutRejectsInvalidRecords(t *testing.T) {
	mgr := newTestManager(t)
	esc := &escrow.Escrow{
		ID:     [32]byte{0x01},
		Amount: big.NewInt(0),
		Status: escrow.StatusActive,
	}
	if err := mgr.EscrowPut(esc); err == nil {
		t.Fatalf("zero-amount record must be rejected")
	}
}

func TestIndexPagination(t *testing.T) {
	mgr := newTestManager(t)
	total := MaxPageSize + 20
	for i := 0; i < total; i++ {
		var id [32]byte
		id[0] = byte(i)
		id[1] = byte(i >> 8)
		if err := mgr.EscrowIndexAdd(alice, bob, id); err != nil {
			t.Fatalf("index add: %v", err)
		}
	}

	page, err := mgr.EscrowsByBuyer(alice, 0, 0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != MaxPageSize {
		t.Fatalf("default page size = %d, want %d", len(page), MaxPageSize)
	}
	page, err = mgr.EscrowsByBuyer(alice, 0, MaxPageSize*2)
	if err != nil {
		t.Fatalf("oversized limit: %v", err)
	}
	if len(page) != MaxPageSize {
		t.Fatalf("oversized limit page = %d, want %d", len(page), MaxPageSize)
	}
	page, err = mgr.EscrowsByBuyer(alice, MaxPageSize, 50)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(page) != 20 {
		t.Fatalf("tail page = %d, want 20", len(page))
	}
	if page[0][0] != byte(MaxPageSize) {
		t.Fatalf("tail page starts at wrong id")
	}
	page, err = mgr.EscrowsByBuyer(alice, total, 10)
	if err != nil || page != nil {
		t.Fatalf("offset past end: page=%v err=%v", page, err)
	}
	page, err = mgr.EscrowsBySeller(bob, 0, 5)
	if err != nil || len(page) != 5 {
		t.Fatalf("seller index page = %d, err=%v", len(page), err)
	}
}

func TestConsentAndChallengeLifecycle(t *testing.T) {
	mgr := newTestManager(t)
	id := [32]byte{0x09}

	if _, ok := mgr.ConsentGet(id); ok {
		t.Fatalf("consent should start absent")
	}
	if err := mgr.ConsentPut(id, escrow.Consent{Buyer: true}); err != nil {
		t.Fatalf("consent put: %v", err)
	}
	consent, ok := mgr.ConsentGet(id)
	if !ok || !consent.Buyer || consent.Seller {
		t.Fatalf("consent round trip: %+v", consent)
	}
	if err := mgr.ConsentDelete(id); err != nil {
		t.Fatalf("consent delete: %v", err)
	}
	if _, ok := mgr.ConsentGet(id); ok {
		t.Fatalf("consent survived delete")
	}

	ch := &escrow.Challenge{
		Challenger: alice,
		Stake:      big.NewInt(10),
		Deadline:   110,
		RespondBy:  70,
		Status:     escrow.ChallengeActive,
	}
	if err := mgr.ChallengePut(id, ch); err != nil {
		t.Fatalf("challenge put: %v", err)
	}
	loaded, ok := mgr.ChallengeGet(id)
	if !ok || loaded.Deadline != 110 || loaded.Status != escrow.ChallengeActive {
		t.Fatalf("challenge round trip: %+v", loaded)
	}
	if err := mgr.ChallengeDelete(id); err != nil {
		t.Fatalf("challenge delete: %v", err)
	}
	if _, ok := mgr.ChallengeGet(id); ok {
		t.Fatalf("challenge survived delete")
	}
}

func TestTimelockNonceMonotonic(t *testing.T) {
	mgr := newTestManager(t)
	for want := uint64(0); want < 3; want++ {
		got, err := mgr.TimelockNextNonce()
		if err != nil {
			t.Fatalf("nonce: %v", err)
		}
		if got != want {
			t.Fatalf("nonce = %d, want %d", got, want)
		}
	}

	action := &timelock.Action{
		ID:           [32]byte{0x01},
		Kind:         timelock.KindOracleRotation,
		ScheduledAt:  100,
		ExecuteAfter: 200,
	}
	if err := mgr.TimelockPut(action); err != nil {
		t.Fatalf("timelock put: %v", err)
	}
	loaded, ok := mgr.TimelockGet(action.ID)
	if !ok || loaded.Kind != timelock.KindOracleRotation || loaded.ExecuteAfter != 200 {
		t.Fatalf("timelock round trip: %+v", loaded)
	}
	if err := mgr.TimelockDelete(action.ID); err != nil {
		t.Fatalf("timelock delete: %v", err)
	}
	if _, ok := mgr.TimelockGet(action.ID); ok {
		t.Fatalf("action survived delete")
	}
}
