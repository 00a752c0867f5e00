package timelock

import (
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"custodia/core/events"
	"custodia/core/types"
)

var (
	// ErrUnauthorized marks callers other than the configured owner.
	ErrUnauthorized = errors.New("timelock: caller is not the owner")
	// ErrActionNotFound marks lookups of unknown or cancelled actions.
	ErrActionNotFound = errors.New("timelock: action not found")
	// ErrActionExists guards against scheduling an identical pending action.
	ErrActionExists = errors.New("timelock: action already scheduled")
	// ErrActionNotReady marks execution attempts before the delay elapses.
	ErrActionNotReady = errors.New("timelock: delay has not elapsed")
	// ErrActionExecuted marks repeat execution of a completed action.
	ErrActionExecuted = errors.New("timelock: action already executed")
	// ErrCommitmentMismatch marks execution arguments that do not hash to
	// the scheduled commitment.
	ErrCommitmentMismatch = errors.New("timelock: arguments do not match scheduled action")
	// ErrUnknownKind marks action kinds with no registered handler.
	ErrUnknownKind = errors.New("timelock: no handler for action kind")

	errNilState = errors.New("timelock engine: state not configured")
)

// Event types emitted by the administration engine.
const (
	EventTypeScheduled = "timelock.scheduled"
	EventTypeExecuted  = "timelock.executed"
	EventTypeCancelled = "timelock.cancelled"
)

type actionState interface {
	TimelockPut(*Action) error
	TimelockGet(id [32]byte) (*Action, bool)
	TimelockDelete(id [32]byte) error
	TimelockNextNonce() (uint64, error)
}

type timelockEvent struct {
	evt *types.Event
}

func (e timelockEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e timelockEvent) Event() *types.Event { return e.evt }

// Handler applies a scheduled change once its delay has elapsed.
type Handler func(payload []byte) error

// Engine implements the schedule/wait/execute pattern for sensitive
// configuration changes so a single compromised owner credential cannot cause
// instantaneous, irreversible damage.
type Engine struct {
	state    actionState
	emitter  events.Emitter
	owner    [20]byte
	delay    int64
	nowFn    func() int64
	handlers map[string]Handler
}

// NewEngine constructs an engine with the given execution delay in seconds.
func NewEngine(delay int64) *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		delay:    delay,
		nowFn:    func() int64 { return time.Now().Unix() },
		handlers: make(map[string]Handler),
	}
}

// SetState configures the persistence backend.
func (e *Engine) SetState(state actionState) { e.state = state }

// SetOwner configures the address allowed to schedule, execute and cancel.
func (e *Engine) SetOwner(addr [20]byte) { e.owner = addr }

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the wall clock. Nil restores the default.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// RegisterHandler wires the function applied when an action of the given
// kind executes.
func (e *Engine) RegisterHandler(kind string, handler Handler) {
	if handler == nil {
		delete(e.handlers, kind)
		return
	}
	e.handlers[kind] = handler
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(timelockEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) authorize(caller [20]byte) error {
	if e.owner == ([20]byte{}) || caller != e.owner {
		return ErrUnauthorized
	}
	return nil
}

func actionAttributes(a *Action) map[string]string {
	attrs := make(map[string]string)
	if a == nil {
		return attrs
	}
	attrs["actionId"] = hex.EncodeToString(a.ID[:])
	attrs["kind"] = a.Kind
	attrs["executeAfter"] = strconv.FormatInt(a.ExecuteAfter, 10)
	return attrs
}

// Get returns the scheduled action by id.
func (e *Engine) Get(id [32]byte) (*Action, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	action, ok := e.state.TimelockGet(id)
	if !ok {
		return nil, ErrActionNotFound
	}
	return action.Clone(), nil
}

// Schedule commits the hash of an intended change and the instant it becomes
// executable, returning the action id.
func (e *Engine) Schedule(caller [20]byte, kind string, payload []byte) ([32]byte, error) {
	var zero [32]byte
	if e == nil || e.state == nil {
		return zero, errNilState
	}
	if err := e.authorize(caller); err != nil {
		return zero, err
	}
	if _, ok := e.handlers[kind]; !ok {
		return zero, ErrUnknownKind
	}
	nonce, err := e.state.TimelockNextNonce()
	if err != nil {
		return zero, err
	}
	id := ActionID(kind, payload, nonce)
	if _, exists := e.state.TimelockGet(id); exists {
		return zero, ErrActionExists
	}
	now := e.now()
	action := &Action{
		ID:           id,
		Kind:         kind,
		Commitment:   Commit(kind, payload),
		ScheduledAt:  now,
		ExecuteAfter: now + e.delay,
	}
	if err := e.state.TimelockPut(action); err != nil {
		return zero, err
	}
	e.emit(&types.Event{Type: EventTypeScheduled, Attributes: actionAttributes(action)})
	return id, nil
}

// Execute re-derives the commitment from the supplied arguments, verifies it
// matches the scheduled one and that the delay has elapsed, then applies the
// change through the registered handler.
func (e *Engine) Execute(caller [20]byte, id [32]byte, kind string, payload []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.authorize(caller); err != nil {
		return err
	}
	action, ok := e.state.TimelockGet(id)
	if !ok {
		return ErrActionNotFound
	}
	if action.Executed {
		return ErrActionExecuted
	}
	if e.now() < action.ExecuteAfter {
		return ErrActionNotReady
	}
	if action.Kind != kind || Commit(kind, payload) != action.Commitment {
		return ErrCommitmentMismatch
	}
	handler, ok := e.handlers[kind]
	if !ok {
		return ErrUnknownKind
	}
	if err := handler(payload); err != nil {
		return err
	}
	action.Executed = true
	if err := e.state.TimelockPut(action); err != nil {
		return err
	}
	e.emit(&types.Event{Type: EventTypeExecuted, Attributes: actionAttributes(action)})
	return nil
}

// Cancel removes a pending action before it executes.
func (e *Engine) Cancel(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.authorize(caller); err != nil {
		return err
	}
	action, ok := e.state.TimelockGet(id)
	if !ok {
		return ErrActionNotFound
	}
	if action.Executed {
		return ErrActionExecuted
	}
	if err := e.state.TimelockDelete(id); err != nil {
		return err
	}
	e.emit(&types.Event{Type: EventTypeCancelled, Attributes: actionAttributes(action)})
	return nil
}
