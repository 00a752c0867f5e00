package reputation

import (
	"errors"
	"fmt"
	"time"
)

// storage abstracts the subset of state manager functionality the reputation
// ledger requires.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var bonusPrefix = []byte("reputation/bonus/")

func bonusKey(agent [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", bonusPrefix, agent))
}

var (
	// ErrBonusNotFound marks agents without an active bonus.
	ErrBonusNotFound = errors.New("reputation: bonus not found")
	// ErrInvalidBonus marks zero-point or never-expiring bonus grants.
	ErrInvalidBonus = errors.New("reputation: bonus must carry points and an expiry")
)

// Bonus is a time-bounded reputation boost granted when a seller passes an
// identity challenge. It decays by expiry rather than by decrement so the
// trust pipeline can treat it as a simple additive signal while it lasts.
type Bonus struct {
	Agent     [20]byte `json:"agent"`
	Points    uint64   `json:"points"`
	GrantedAt int64    `json:"grantedAt"`
	ExpiresAt int64    `json:"expiresAt"`
	Reason    string   `json:"reason"`
}

// Ledger persists time-bounded reputation bonuses.
type Ledger struct {
	store storage
	nowFn func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store: store,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the wall clock, primarily for tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

// Grant stores a bonus for the agent, replacing any previous grant.
func (l *Ledger) Grant(agent [20]byte, points uint64, ttl int64, reason string) (*Bonus, error) {
	if l == nil || l.store == nil {
		return nil, ErrBonusNotFound
	}
	if points == 0 || ttl <= 0 {
		return nil, ErrInvalidBonus
	}
	now := l.now()
	bonus := &Bonus{
		Agent:     agent,
		Points:    points,
		GrantedAt: now,
		ExpiresAt: now + ttl,
		Reason:    reason,
	}
	if err := l.store.KVPut(bonusKey(agent), bonus); err != nil {
		return nil, err
	}
	return bonus, nil
}

// Active returns the agent's bonus if one exists and has not expired.
// Expired grants are lazily removed on read.
func (l *Ledger) Active(agent [20]byte) (*Bonus, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, ErrBonusNotFound
	}
	var bonus Bonus
	ok, err := l.store.KVGet(bonusKey(agent), &bonus)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if l.now() >= bonus.ExpiresAt {
		if err := l.store.KVDelete(bonusKey(agent)); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return &bonus, true, nil
}
