package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"custodia/core/types"
	"custodia/native/escrow"
	"custodia/native/timelock"
	"custodia/storage"
)

// Key prefixes. Every record lives under a module-scoped prefix so backends
// can be inspected and migrated without a schema registry.
var (
	keyAccountPrefix       = "account/"
	keyEscrowPrefix        = "escrow/record/"
	keyChallengePrefix     = "escrow/challenge/"
	keyDisputePrefix       = "escrow/dispute/"
	keyConsentPrefix       = "escrow/consent/"
	keyAggregates          = "escrow/aggregates"
	keyAgentStatsPrefix    = "escrow/agent/"
	keyCooldownPrefix      = "escrow/cooldown/"
	keyBuyerIndexPrefix    = "escrow/index/buyer/"
	keySellerIndexPrefix   = "escrow/index/seller/"
	keyTimelockPrefix      = "timelock/action/"
	keyTimelockNonce       = "timelock/nonce"
)

// MaxPageSize bounds paginated index reads so a single query cannot return an
// unbounded response.
const MaxPageSize = 100

// Manager persists ledger records as JSON documents in a key-value backend
// and implements the state interfaces of the escrow and timelock engines.
// Engines serialize operations with their own per-escrow critical sections;
// the manager's mutex only protects multi-key balance movement.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVGet reads a JSON document into out, reporting whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut writes a JSON document under the key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// KVDelete removes the key. Deleting a missing key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	return m.db.Delete(key)
}

func idKey(prefix string, id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", prefix, id))
}

func addrKey(prefix string, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", prefix, addr))
}

// --- Accounts ---

// GetAccount loads the account for the address, returning a zero-balance
// account when none exists yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var acc types.Account
	ok, err := m.KVGet(addrKey(keyAccountPrefix, addr), &acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.EnsureAccount(nil), nil
	}
	return types.EnsureAccount(&acc), nil
}

// PutAccount stores the account for the address.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	return m.KVPut(addrKey(keyAccountPrefix, addr), types.EnsureAccount(acc))
}

// --- Escrow records ---

// EscrowPut sanitizes and stores the record.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := e.Sanitize()
	if err != nil {
		return err
	}
	return m.KVPut(idKey(keyEscrowPrefix, sanitized.ID), sanitized)
}

// EscrowGet loads the record by id.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	var e escrow.Escrow
	ok, err := m.KVGet(idKey(keyEscrowPrefix, id), &e)
	if err != nil || !ok {
		return nil, false
	}
	return e.Clone(), true
}

// EscrowIndexAdd appends the id to both party indexes.
func (m *Manager) EscrowIndexAdd(buyer, seller [20]byte, id [32]byte) error {
	if err := m.indexAppend(addrKey(keyBuyerIndexPrefix, buyer), id); err != nil {
		return err
	}
	return m.indexAppend(addrKey(keySellerIndexPrefix, seller), id)
}

func (m *Manager) indexAppend(key []byte, id [32]byte) error {
	var ids [][32]byte
	if _, err := m.KVGet(key, &ids); err != nil {
		return err
	}
	ids = append(ids, id)
	return m.KVPut(key, ids)
}

func (m *Manager) indexPage(key []byte, offset, limit int) ([][32]byte, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var ids [][32]byte
	if _, err := m.KVGet(key, &ids); err != nil {
		return nil, err
	}
	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := make([][32]byte, end-offset)
	copy(page, ids[offset:end])
	return page, nil
}

// EscrowsByBuyer returns a bounded page of escrow ids created by the buyer.
func (m *Manager) EscrowsByBuyer(buyer [20]byte, offset, limit int) ([][32]byte, error) {
	return m.indexPage(addrKey(keyBuyerIndexPrefix, buyer), offset, limit)
}

// EscrowsBySeller returns a bounded page of escrow ids naming the seller.
func (m *Manager) EscrowsBySeller(seller [20]byte, offset, limit int) ([][32]byte, error) {
	return m.indexPage(addrKey(keySellerIndexPrefix, seller), offset, limit)
}

// --- Challenges ---

// ChallengePut stores the challenge attached to the escrow id.
func (m *Manager) ChallengePut(id [32]byte, c *escrow.Challenge) error {
	if c == nil {
		return fmt.Errorf("state: nil challenge")
	}
	return m.KVPut(idKey(keyChallengePrefix, id), c.Clone())
}

// ChallengeGet loads the challenge attached to the escrow id.
func (m *Manager) ChallengeGet(id [32]byte) (*escrow.Challenge, bool) {
	var c escrow.Challenge
	ok, err := m.KVGet(idKey(keyChallengePrefix, id), &c)
	if err != nil || !ok {
		return nil, false
	}
	return c.Clone(), true
}

// ChallengeDelete removes the challenge record.
func (m *Manager) ChallengeDelete(id [32]byte) error {
	return m.KVDelete(idKey(keyChallengePrefix, id))
}

// --- Disputes ---

// DisputePut stores the dispute attached to the escrow id.
func (m *Manager) DisputePut(id [32]byte, d *escrow.Dispute) error {
	if d == nil {
		return fmt.Errorf("state: nil dispute")
	}
	return m.KVPut(idKey(keyDisputePrefix, id), d.Clone())
}

// DisputeGet loads the dispute attached to the escrow id.
func (m *Manager) DisputeGet(id [32]byte) (*escrow.Dispute, bool) {
	var d escrow.Dispute
	ok, err := m.KVGet(idKey(keyDisputePrefix, id), &d)
	if err != nil || !ok {
		return nil, false
	}
	return d.Clone(), true
}

// --- Consent ---

// ConsentGet loads the two-key consent record for the escrow id.
func (m *Manager) ConsentGet(id [32]byte) (escrow.Consent, bool) {
	var c escrow.Consent
	ok, err := m.KVGet(idKey(keyConsentPrefix, id), &c)
	if err != nil || !ok {
		return escrow.Consent{}, false
	}
	return c, true
}

// ConsentPut stores the consent record.
func (m *Manager) ConsentPut(id [32]byte, c escrow.Consent) error {
	return m.KVPut(idKey(keyConsentPrefix, id), c)
}

// ConsentDelete removes the consent record.
func (m *Manager) ConsentDelete(id [32]byte) error {
	return m.KVDelete(idKey(keyConsentPrefix, id))
}

// --- Aggregates ---

// AggregatesGet loads the global counters.
func (m *Manager) AggregatesGet() (escrow.Aggregates, error) {
	var agg escrow.Aggregates
	if _, err := m.KVGet([]byte(keyAggregates), &agg); err != nil {
		return escrow.Aggregates{}, err
	}
	return agg.Normalize(), nil
}

// AggregatesPut stores the global counters.
func (m *Manager) AggregatesPut(agg escrow.Aggregates) error {
	return m.KVPut([]byte(keyAggregates), agg.Normalize())
}

// AgentStatsGet loads the per-agent participation counters.
func (m *Manager) AgentStatsGet(addr [20]byte) (escrow.AgentStats, error) {
	var stats escrow.AgentStats
	if _, err := m.KVGet(addrKey(keyAgentStatsPrefix, addr), &stats); err != nil {
		return escrow.AgentStats{}, err
	}
	return stats, nil
}

// AgentStatsPut stores the per-agent participation counters.
func (m *Manager) AgentStatsPut(addr [20]byte, stats escrow.AgentStats) error {
	return m.KVPut(addrKey(keyAgentStatsPrefix, addr), stats)
}

// LastChallengeGet returns the wall-clock instant of the address's most
// recent challenge initiation.
func (m *Manager) LastChallengeGet(addr [20]byte) (int64, bool) {
	var ts int64
	ok, err := m.KVGet(addrKey(keyCooldownPrefix, addr), &ts)
	if err != nil || !ok {
		return 0, false
	}
	return ts, true
}

// LastChallengePut records the instant of a challenge initiation.
func (m *Manager) LastChallengePut(addr [20]byte, ts int64) error {
	return m.KVPut(addrKey(keyCooldownPrefix, addr), ts)
}

// --- Timelock actions ---

// TimelockPut stores a pending or executed administrative action.
func (m *Manager) TimelockPut(a *timelock.Action) error {
	if a == nil {
		return fmt.Errorf("state: nil timelock action")
	}
	return m.KVPut(idKey(keyTimelockPrefix, a.ID), a.Clone())
}

// TimelockGet loads an administrative action by id.
func (m *Manager) TimelockGet(id [32]byte) (*timelock.Action, bool) {
	var a timelock.Action
	ok, err := m.KVGet(idKey(keyTimelockPrefix, id), &a)
	if err != nil || !ok {
		return nil, false
	}
	return a.Clone(), true
}

// TimelockDelete removes an administrative action.
func (m *Manager) TimelockDelete(id [32]byte) error {
	return m.KVDelete(idKey(keyTimelockPrefix, id))
}

// TimelockNextNonce returns a monotonically increasing schedule nonce.
func (m *Manager) TimelockNextNonce() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nonce uint64
	if _, err := m.KVGet([]byte(keyTimelockNonce), &nonce); err != nil {
		return 0, err
	}
	next := nonce + 1
	if err := m.KVPut([]byte(keyTimelockNonce), next); err != nil {
		return 0, err
	}
	return nonce, nil
}
