package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"custodia/crypto"
	"custodia/native/escrow"
	"custodia/native/reputation"
)

type createParams struct {
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	Amount    string `json:"amount"`
	JobHash   string `json:"jobHash"`
	Threshold uint8  `json:"threshold"`
}

type actorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type refundParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Reason string `json:"reason,omitempty"`
}

type disputeParams struct {
	ID       string `json:"id"`
	Caller   string `json:"caller"`
	Evidence string `json:"evidence,omitempty"`
}

type resolveDisputeParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Winner string `json:"winner"`
}

type respondParams struct {
	ID         string `json:"id"`
	Caller     string `json:"caller"`
	Commitment string `json:"commitment"`
}

type idParams struct {
	ID string `json:"id"`
}

type listParams struct {
	Address string `json:"address"`
	Offset  int    `json:"offset,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type addressParams struct {
	Address string `json:"address"`
}

type escrowJSON struct {
	ID             string `json:"id"`
	Buyer          string `json:"buyer"`
	Seller         string `json:"seller"`
	Amount         string `json:"amount"`
	JobHash        string `json:"jobHash"`
	TrustThreshold uint8  `json:"trustThreshold"`
	CreatedAt      int64  `json:"createdAt"`
	ExpiresAt      int64  `json:"expiresAt"`
	Status         string `json:"status"`
}

type challengeJSON struct {
	Challenger string `json:"challenger"`
	Stake      string `json:"stake"`
	Deadline   uint64 `json:"deadline"`
	RespondBy  uint64 `json:"respondBy"`
	Status     string `json:"status"`
	Passed     bool   `json:"passed"`
	Commitment string `json:"commitment,omitempty"`
}

type disputeJSON struct {
	Initiator string `json:"initiator"`
	Evidence  string `json:"evidence,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	Resolved  bool   `json:"resolved"`
	Winner    string `json:"winner,omitempty"`
}

type completionRateJSON struct {
	Address           string `json:"address"`
	TotalEscrows      uint64 `json:"totalEscrows"`
	CompletedEscrows  uint64 `json:"completedEscrows"`
	CompletionRateBps uint64 `json:"completionRateBps"`
}

type aggregatesJSON struct {
	EscrowCount        uint64 `json:"escrowCount"`
	TotalVolume        string `json:"totalVolume"`
	TotalFeesCollected string `json:"totalFeesCollected"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func parseID(raw string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return id, fmt.Errorf("decode id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, errors.New("id must be 32 bytes of hex")
	}
	copy(id[:], decoded)
	return id, nil
}

func parseHash(raw string) ([32]byte, error) {
	return parseID(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}

func addressString(raw [20]byte) string {
	return crypto.MustNewAddress(raw[:]).String()
}

func renderEscrow(e *escrow.Escrow) escrowJSON {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return escrowJSON{
		ID:             hex.EncodeToString(e.ID[:]),
		Buyer:          addressString(e.Buyer),
		Seller:         addressString(e.Seller),
		Amount:         amount,
		JobHash:        hex.EncodeToString(e.JobHash[:]),
		TrustThreshold: e.TrustThreshold,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
		Status:         e.Status.String(),
	}
}

func renderChallenge(c *escrow.Challenge) challengeJSON {
	stake := "0"
	if c.Stake != nil {
		stake = c.Stake.String()
	}
	out := challengeJSON{
		Challenger: addressString(c.Challenger),
		Stake:      stake,
		Deadline:   c.Deadline,
		RespondBy:  c.RespondBy,
		Status:     c.Status.String(),
		Passed:     c.Passed,
	}
	if c.ResponseCommitment != ([32]byte{}) {
		out.Commitment = hex.EncodeToString(c.ResponseCommitment[:])
	}
	return out
}

func renderDispute(d *escrow.Dispute) disputeJSON {
	out := disputeJSON{
		Initiator: addressString(d.Initiator),
		CreatedAt: d.CreatedAt,
		Resolved:  d.Resolved,
	}
	if len(d.Evidence) > 0 {
		out.Evidence = string(d.Evidence)
	}
	if d.Winner != ([20]byte{}) {
		out.Winner = addressString(d.Winner)
	}
	return out
}

func (s *Server) handleCreate(w http.ResponseWriter, req *RPCRequest) {
	var params createParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	jobHash, err := parseHash(params.JobHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.engine.Create(buyer, seller, amount, jobHash, params.Threshold)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"id": hex.EncodeToString(id[:])})
}

func (s *Server) decodeActor(w http.ResponseWriter, req *RPCRequest) (id [32]byte, caller [20]byte, ok bool) {
	var params actorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return id, caller, false
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return id, caller, false
	}
	caller, err = parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return id, caller, false
	}
	return id, caller, true
}

func (s *Server) handleReleaseWithConsent(w http.ResponseWriter, req *RPCRequest) {
	id, caller, ok := s.decodeActor(w, req)
	if !ok {
		return
	}
	if err := s.engine.ReleaseWithConsent(id, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) handleRefund(w http.ResponseWriter, req *RPCRequest) {
	var params refundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.Refund(id, caller, params.Reason); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) handleClaimExpired(w http.ResponseWriter, req *RPCRequest) {
	id, caller, ok := s.decodeActor(w, req)
	if !ok {
		return
	}
	if err := s.engine.ClaimExpired(id, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) handleDispute(w http.ResponseWriter, req *RPCRequest) {
	var params disputeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.Dispute(id, caller, []byte(params.Evidence)); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, req *RPCRequest) {
	var params resolveDisputeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	winner, err := parseAddress(params.Winner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.ResolveDispute(id, caller, winner); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) handleInitiateChallenge(w http.ResponseWriter, req *RPCRequest) {
	id, caller, ok := s.decodeActor(w, req)
	if !ok {
		return
	}
	if err := s.engine.InitiateChallenge(id, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) handleRespondChallenge(w http.ResponseWriter, req *RPCRequest) {
	var params respondParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	commitment, err := parseHash(params.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.RespondChallenge(id, caller, commitment); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) handleClaimChallengeTimeout(w http.ResponseWriter, req *RPCRequest) {
	id, caller, ok := s.decodeActor(w, req)
	if !ok {
		return
	}
	if err := s.engine.ClaimChallengeTimeout(id, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) writeEscrowStatus(w http.ResponseWriter, req *RPCRequest, id [32]byte) {
	esc, err := s.engine.Get(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, renderEscrow(esc))
}

func (s *Server) decodeID(w http.ResponseWriter, req *RPCRequest) ([32]byte, bool) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [32]byte{}, false
	}
	id, err := parseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [32]byte{}, false
	}
	return id, true
}

func (s *Server) handleGet(w http.ResponseWriter, req *RPCRequest) {
	id, ok := s.decodeID(w, req)
	if !ok {
		return
	}
	s.writeEscrowStatus(w, req, id)
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, req *RPCRequest) {
	id, ok := s.decodeID(w, req)
	if !ok {
		return
	}
	ch, err := s.engine.GetChallenge(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, renderChallenge(ch))
}

func (s *Server) handleGetDispute(w http.ResponseWriter, req *RPCRequest) {
	id, ok := s.decodeID(w, req)
	if !ok {
		return
	}
	d, err := s.engine.GetDispute(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, renderDispute(d))
}

func (s *Server) handleList(w http.ResponseWriter, req *RPCRequest, bySeller bool) {
	var params listParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var ids [][32]byte
	if bySeller {
		ids, err = s.queries.EscrowsBySeller(addr, params.Offset, params.Limit)
	} else {
		ids, err = s.queries.EscrowsByBuyer(addr, params.Offset, params.Limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = hex.EncodeToString(id[:])
	}
	writeResult(w, req.ID, map[string]interface{}{"ids": out, "offset": params.Offset})
}

func (s *Server) handleListByBuyer(w http.ResponseWriter, req *RPCRequest) {
	s.handleList(w, req, false)
}

func (s *Server) handleListBySeller(w http.ResponseWriter, req *RPCRequest) {
	s.handleList(w, req, true)
}

func (s *Server) handleCompletionRate(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	stats, err := s.queries.AgentStatsGet(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, completionRateJSON{
		Address:           params.Address,
		TotalEscrows:      stats.TotalEscrows,
		CompletedEscrows:  stats.CompletedEscrows,
		CompletionRateBps: reputation.CompletionRateBps(stats.CompletedEscrows, stats.TotalEscrows),
	})
}

func (s *Server) handleAggregates(w http.ResponseWriter, req *RPCRequest) {
	agg, err := s.queries.AggregatesGet()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	agg = agg.Normalize()
	writeResult(w, req.ID, aggregatesJSON{
		EscrowCount:        agg.EscrowCount,
		TotalVolume:        agg.TotalVolume.String(),
		TotalFeesCollected: agg.TotalFeesCollected.String(),
	})
}
