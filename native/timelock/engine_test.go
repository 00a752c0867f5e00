package timelock

import (
	"testing"
)

type mockActionState struct {
	actions map[[32]byte]*Action
	nonce   uint64
}

func newMockActionState() *mockActionState {
	return &mockActionState{actions: make(map[[32]byte]*Action)}
}

func (m *mockActionState) TimelockPut(a *Action) error {
	clone := *a
	m.actions[a.ID] = &clone
	return nil
}

func (m *mockActionState) TimelockGet(id [32]byte) (*Action, bool) {
	a, ok := m.actions[id]
	if !ok {
		return nil, false
	}
	clone := *a
	return &clone, true
}

func (m *mockActionState) TimelockDelete(id [32]byte) error {
	delete(m.actions, id)
	return nil
}

func (m *mockActionState) TimelockNextNonce() (uint64, error) {
	n := m.nonce
	m.nonce++
	return n, nil
}

var (
	owner    = [20]byte{0x01}
	intruder = [20]byte{0x02}
)

func newTestEngine(delay int64, applied *[][]byte) (*Engine, *int64) {
	engine := NewEngine(delay)
	engine.SetState(newMockActionState())
	engine.SetOwner(owner)
	now := int64(1000)
	engine.SetNowFunc(func() int64 { return now })
	engine.RegisterHandler(KindOracleRotation, func(payload []byte) error {
		if applied != nil {
			*applied = append(*applied, payload)
		}
		return nil
	})
	return engine, &now
}

func TestScheduleRequiresOwnerAndKnownKind(t *testing.T) {
	engine, _ := newTestEngine(100, nil)
	payload := make([]byte, 20)

	if _, err := engine.Schedule(intruder, KindOracleRotation, payload); err != ErrUnauthorized {
		t.Fatalf("intruder schedule: %v", err)
	}
	if _, err := engine.Schedule(owner, "unknown.kind", payload); err != ErrUnknownKind {
		t.Fatalf("unknown kind: %v", err)
	}
	if _, err := engine.Schedule(owner, KindOracleRotation, payload); err != nil {
		t.Fatalf("owner schedule: %v", err)
	}
}

func TestExecuteEnforcesDelayAndCommitment(t *testing.T) {
	var applied [][]byte
	engine, now := newTestEngine(100, &applied)
	payload := []byte{0xaa, 0xbb}

	id, err := engine.Schedule(owner, KindOracleRotation, payload)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := engine.Execute(owner, id, KindOracleRotation, payload); err != ErrActionNotReady {
		t.Fatalf("execute before delay: %v", err)
	}
	*now += 99
	if err := engine.Execute(owner, id, KindOracleRotation, payload); err != ErrActionNotReady {
		t.Fatalf("execute one second early: %v", err)
	}
	*now++
	if err := engine.Execute(owner, id, KindOracleRotation, []byte{0xde, 0xad}); err != ErrCommitmentMismatch {
		t.Fatalf("execute with altered payload: %v", err)
	}
	if err := engine.Execute(intruder, id, KindOracleRotation, payload); err != ErrUnauthorized {
		t.Fatalf("intruder execute: %v", err)
	}
	if err := engine.Execute(owner, id, KindOracleRotation, payload); err != nil {
		t.Fatalf("execute at delay: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("handler applications = %d", len(applied))
	}
	if err := engine.Execute(owner, id, KindOracleRotation, payload); err != ErrActionExecuted {
		t.Fatalf("repeat execute: %v", err)
	}
}

func TestCancelRemovesPendingAction(t *testing.T) {
	engine, now := newTestEngine(100, nil)
	payload := []byte{0x01}

	id, err := engine.Schedule(owner, KindOracleRotation, payload)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := engine.Cancel(intruder, id); err != ErrUnauthorized {
		t.Fatalf("intruder cancel: %v", err)
	}
	if err := engine.Cancel(owner, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	*now += 200
	if err := engine.Execute(owner, id, KindOracleRotation, payload); err != ErrActionNotFound {
		t.Fatalf("execute after cancel: %v", err)
	}
	if err := engine.Cancel(owner, id); err != ErrActionNotFound {
		t.Fatalf("repeat cancel: %v", err)
	}
}

func TestNonceSeparatesIdenticalSchedules(t *testing.T) {
	engine, _ := newTestEngine(100, nil)
	payload := []byte{0x01}

	a, err := engine.Schedule(owner, KindOracleRotation, payload)
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	b, err := engine.Schedule(owner, KindOracleRotation, payload)
	if err != nil {
		t.Fatalf("second schedule: %v", err)
	}
	if a == b {
		t.Fatalf("identical schedules must receive distinct action ids")
	}
}
