package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"custodia/native/timelock"
)

type timelockScheduleParams struct {
	Caller  string `json:"caller"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

type timelockExecuteParams struct {
	Caller  string `json:"caller"`
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

type timelockIDParams struct {
	Caller string `json:"caller,omitempty"`
	ID     string `json:"id"`
}

type timelockActionJSON struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	ScheduledAt  int64  `json:"scheduledAt"`
	ExecuteAfter int64  `json:"executeAfter"`
	Executed     bool   `json:"executed"`
}

func renderTimelockAction(a *timelock.Action) timelockActionJSON {
	return timelockActionJSON{
		ID:           hex.EncodeToString(a.ID[:]),
		Kind:         a.Kind,
		ScheduledAt:  a.ScheduledAt,
		ExecuteAfter: a.ExecuteAfter,
		Executed:     a.Executed,
	}
}

func parsePayload(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	payload, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// requireTimelock guards the timelock_* methods on daemons that run without
// the administration engine wired.
func (s *Server) requireTimelock(w http.ResponseWriter, req *RPCRequest) bool {
	if s.timelock == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeNotReady, "not_ready", "timelock administration not configured")
		return false
	}
	return true
}

func writeTimelockError(w http.ResponseWriter, id json.RawMessage, err error) {
	switch {
	case errors.Is(err, timelock.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeForbidden, "forbidden", err.Error())
	case errors.Is(err, timelock.ErrActionNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, timelock.ErrActionNotReady):
		writeError(w, http.StatusConflict, id, codeNotReady, "not_ready", err.Error())
	case errors.Is(err, timelock.ErrCommitmentMismatch),
		errors.Is(err, timelock.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, timelock.ErrActionExists),
		errors.Is(err, timelock.ErrActionExecuted):
		writeError(w, http.StatusConflict, id, codeConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleTimelockSchedule(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireTimelock(w, req) {
		return
	}
	var params timelockScheduleParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	payload, err := parsePayload(params.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.timelock.Schedule(caller, params.Kind, payload)
	if err != nil {
		writeTimelockError(w, req.ID, err)
		return
	}
	s.writeTimelockAction(w, req, id)
}

func (s *Server) handleTimelockExecute(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireTimelock(w, req) {
		return
	}
	var params timelockExecuteParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	payload, err := parsePayload(params.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.timelock.Execute(caller, id, params.Kind, payload); err != nil {
		writeTimelockError(w, req.ID, err)
		return
	}
	s.writeTimelockAction(w, req, id)
}

func (s *Server) handleTimelockCancel(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireTimelock(w, req) {
		return
	}
	var params timelockIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.timelock.Cancel(caller, id); err != nil {
		writeTimelockError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"id": params.ID, "status": "cancelled"})
}

func (s *Server) handleTimelockGet(w http.ResponseWriter, req *RPCRequest) {
	if !s.requireTimelock(w, req) {
		return
	}
	var params timelockIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.writeTimelockAction(w, req, id)
}

func (s *Server) writeTimelockAction(w http.ResponseWriter, req *RPCRequest, id [32]byte) {
	action, err := s.timelock.Get(id)
	if err != nil {
		writeTimelockError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, renderTimelockAction(action))
}
