package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"custodia/native/escrow"
	"custodia/native/timelock"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeEscrowNotFound = -32022
	codeForbidden      = -32023
	codeConflict       = -32024
	codeNotReady       = -32026
)

// RPCRequest is a JSON-RPC 2.0 call envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// RPCError carries a machine-readable failure.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Queries is the read-only state surface the server exposes alongside the
// engine. Pages are bounded by the state layer.
type Queries interface {
	EscrowsByBuyer(addr [20]byte, offset, limit int) ([][32]byte, error)
	EscrowsBySeller(addr [20]byte, offset, limit int) ([][32]byte, error)
	AgentStatsGet(addr [20]byte) (escrow.AgentStats, error)
	AggregatesGet() (escrow.Aggregates, error)
}

// Server dispatches JSON-RPC calls onto the escrow engine. Mutating methods
// require the configured bearer token; queries stay open.
type Server struct {
	engine    *escrow.Engine
	queries   Queries
	timelock  *timelock.Engine
	authToken string
}

// NewServer constructs an RPC server. An empty token disables write access.
func NewServer(engine *escrow.Engine, queries Queries, authToken string) *Server {
	return &Server{engine: engine, queries: queries, authToken: strings.TrimSpace(authToken)}
}

// SetTimelock exposes the administration engine over the timelock_* methods.
// Without it those methods report not_ready.
func (s *Server) SetTimelock(tl *timelock.Engine) { s.timelock = tl }

// ServeHTTP implements http.Handler for the single JSON-RPC endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "read request", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse request", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}
	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if s.isMutating(req.Method) {
		if err := s.requireAuth(r); err != nil {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", err.Error())
			return
		}
	}
	handler(w, &req)
}

type methodHandler func(http.ResponseWriter, *RPCRequest)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"escrow_create":                s.handleCreate,
		"escrow_releaseWithConsent":    s.handleReleaseWithConsent,
		"escrow_refund":                s.handleRefund,
		"escrow_claimExpired":          s.handleClaimExpired,
		"escrow_dispute":               s.handleDispute,
		"escrow_resolveDispute":        s.handleResolveDispute,
		"escrow_initiateChallenge":     s.handleInitiateChallenge,
		"escrow_respondChallenge":      s.handleRespondChallenge,
		"escrow_claimChallengeTimeout": s.handleClaimChallengeTimeout,
		"escrow_get":                   s.handleGet,
		"escrow_getChallenge":          s.handleGetChallenge,
		"escrow_getDispute":            s.handleGetDispute,
		"escrow_listByBuyer":           s.handleListByBuyer,
		"escrow_listBySeller":          s.handleListBySeller,
		"escrow_completionRate":        s.handleCompletionRate,
		"escrow_aggregates":            s.handleAggregates,
		"timelock_schedule":            s.handleTimelockSchedule,
		"timelock_execute":             s.handleTimelockExecute,
		"timelock_cancel":              s.handleTimelockCancel,
		"timelock_get":                 s.handleTimelockGet,
	}
}

func (s *Server) isMutating(method string) bool {
	switch method {
	case "escrow_get", "escrow_getChallenge", "escrow_getDispute",
		"escrow_listByBuyer", "escrow_listBySeller",
		"escrow_completionRate", "escrow_aggregates",
		"timelock_get":
		return false
	default:
		return true
	}
}

func (s *Server) requireAuth(r *http.Request) error {
	if s.authToken == "" {
		return errors.New("write access disabled: no auth token configured")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return errors.New("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return errors.New("invalid bearer token")
	}
	return nil
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

// writeEngineError maps the ledger's named errors onto stable RPC codes so
// clients can distinguish "permanently invalid" from "not yet eligible".
func writeEngineError(w http.ResponseWriter, id json.RawMessage, err error) {
	switch {
	case errors.Is(err, escrow.ErrEscrowNotFound),
		errors.Is(err, escrow.ErrChallengeNotFound),
		errors.Is(err, escrow.ErrDisputeNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrUnauthorizedCaller),
		errors.Is(err, escrow.ErrSellerCannotChallenge):
		writeError(w, http.StatusForbidden, id, codeForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidSeller),
		errors.Is(err, escrow.ErrInvalidThreshold),
		errors.Is(err, escrow.ErrInvalidWinner),
		errors.Is(err, escrow.ErrInvalidCommitment),
		errors.Is(err, escrow.ErrEvidenceTooLarge):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, escrow.ErrConsentNotOpen),
		errors.Is(err, escrow.ErrEscrowNotExpired),
		errors.Is(err, escrow.ErrChallengeNotExpired),
		errors.Is(err, escrow.ErrChallengeCooldown):
		writeError(w, http.StatusConflict, id, codeNotReady, "not_ready", err.Error())
	case errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrEscrowExists),
		errors.Is(err, escrow.ErrEscrowExpired),
		errors.Is(err, escrow.ErrScoreBelowThreshold),
		errors.Is(err, escrow.ErrChallengePending),
		errors.Is(err, escrow.ErrChallengeNotActive),
		errors.Is(err, escrow.ErrResponseWindowClosed),
		errors.Is(err, escrow.ErrChallengeDeadlinePassed),
		errors.Is(err, escrow.ErrDisputeResolved),
		errors.Is(err, escrow.ErrTransferFailed):
		writeError(w, http.StatusConflict, id, codeConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}
