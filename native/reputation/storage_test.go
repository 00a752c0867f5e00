package reputation

import (
	"encoding/json"
	"testing"
)

type mapStore struct {
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (s *mapStore) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := s.data[string(key)]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *mapStore) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.data[string(key)] = raw
	return nil
}

func (s *mapStore) KVDelete(key []byte) error {
	delete(s.data, string(key))
	return nil
}

var agent = [20]byte{0x01}

func TestGrantAndActive(t *testing.T) {
	ledger := NewLedger(newMapStore())
	now := int64(1000)
	ledger.SetNowFunc(func() int64 { return now })

	bonus, err := ledger.Grant(agent, 50, 600, "challenge pass")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if bonus.ExpiresAt != 1600 {
		t.Fatalf("expiry = %d", bonus.ExpiresAt)
	}

	active, ok, err := ledger.Active(agent)
	if err != nil || !ok {
		t.Fatalf("active: ok=%v err=%v", ok, err)
	}
	if active.Points != 50 || active.Reason != "challenge pass" {
		t.Fatalf("unexpected bonus: %+v", active)
	}
}

func TestActiveExpiresLazily(t *testing.T) {
	store := newMapStore()
	ledger := NewLedger(store)
	now := int64(1000)
	ledger.SetNowFunc(func() int64 { return now })

	if _, err := ledger.Grant(agent, 50, 600, "challenge pass"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	now = 1600
	if _, ok, err := ledger.Active(agent); err != nil || ok {
		t.Fatalf("bonus at expiry instant must be gone: ok=%v err=%v", ok, err)
	}
	if len(store.data) != 0 {
		t.Fatalf("expired bonus not removed from storage")
	}
}

func TestGrantValidation(t *testing.T) {
	ledger := NewLedger(newMapStore())
	if _, err := ledger.Grant(agent, 0, 600, ""); err != ErrInvalidBonus {
		t.Fatalf("zero points: %v", err)
	}
	if _, err := ledger.Grant(agent, 10, 0, ""); err != ErrInvalidBonus {
		t.Fatalf("zero ttl: %v", err)
	}
}

func TestCompletionRateBps(t *testing.T) {
	cases := []struct {
		completed, total, want uint64
	}{
		{0, 0, 0},
		{0, 5, 0},
		{1, 3, 3333},
		{2, 3, 6666},
		{3, 3, 10_000},
		{7, 8, 8750},
	}
	for _, tc := range cases {
		if got := CompletionRateBps(tc.completed, tc.total); got != tc.want {
			t.Fatalf("CompletionRateBps(%d, %d) = %d, want %d", tc.completed, tc.total, got, tc.want)
		}
	}
}
