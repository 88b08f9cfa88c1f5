package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/crypto"
	"escrowd/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowFundsParams struct {
	Client string `json:"client"`
	Amount string `json:"amount"`
}

type escrowRegisterParams struct {
	Client      string `json:"client"`
	Provider    string `json:"provider"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowListParams struct {
	Party string `json:"party"`
}

type escrowBalanceParams struct {
	Account string `json:"account"`
}

type escrowEventsParams struct {
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type agreementJSON struct {
	ID          string `json:"id"`
	Client      string `json:"client"`
	Provider    string `json:"provider"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

type escrowListResult struct {
	IDs []string `json:"ids"`
}

type custodyResult struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

type balanceResult struct {
	Account  string `json:"account"`
	Balance  string `json:"balance"`
	Reserved string `json:"reserved"`
	Nonce    uint64 `json:"nonce"`
}

func (s *Server) handleEscrowReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, ok := decodeParams[escrowFundsParams](w, req)
	if !ok {
		return
	}
	client, err := parseBech32Address(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowReserve(client, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowUnreserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, ok := decodeParams[escrowFundsParams](w, req)
	if !ok {
		return
	}
	client, err := parseBech32Address(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowUnreserve(client, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowRegister(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, ok := decodeParams[escrowRegisterParams](w, req)
	if !ok {
		return
	}
	client, err := parseBech32Address(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	provider, err := parseBech32Address(params.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	agr, err := s.node.EscrowRegister(client, provider, amount, strings.TrimSpace(params.Description))
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreementJSON(agr))
}

func (s *Server) handleEscrowAccept(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowTransition(w, r, req, s.node.EscrowAccept)
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowTransition(w, r, req, s.node.EscrowRelease)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowTransition(w, r, req, s.node.EscrowRefund)
}

func (s *Server) handleEscrowTransition(w http.ResponseWriter, _ *http.Request, req *RPCRequest, fn func([32]byte, [20]byte) (*escrow.Agreement, error)) {
	params, ok := decodeParams[escrowActorParams](w, req)
	if !ok {
		return
	}
	id, err := escrow.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	agr, err := fn(id, caller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreementJSON(agr))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, ok := decodeParams[escrowIDParams](w, req)
	if !ok {
		return
	}
	id, err := escrow.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	agr, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreementJSON(agr))
}

func (s *Server) handleEscrowList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, ok := decodeParams[escrowListParams](w, req)
	if !ok {
		return
	}
	party, err := parseBech32Address(params.Party)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	ids, err := s.node.EscrowListFor(party)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	result := escrowListResult{IDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		result.IDs = append(result.IDs, escrow.FormatID(id))
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleEscrowCustody(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, ok := decodeParams[escrowIDParams](w, req)
	if !ok {
		return
	}
	id, err := escrow.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.node.EscrowCustody(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, custodyResult{ID: escrow.FormatID(id), Amount: amount.String()})
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, ok := decodeParams[escrowBalanceParams](w, req)
	if !ok {
		return
	}
	addr, err := parseBech32Address(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	account, err := s.node.Account(addr)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{
		Account:  crypto.MustNewAddress(crypto.EscrowPrefix, addr[:]).String(),
		Balance:  account.Balance.String(),
		Reserved: account.Reserved.String(),
		Nonce:    account.Nonce,
	})
}

func (s *Server) handleEscrowListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := escrowEventsParams{}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "at most one parameter object expected")
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	writeResult(w, req.ID, s.node.Events(strings.TrimSpace(params.Prefix), params.Limit))
}

func decodeParams[T any](w http.ResponseWriter, req *RPCRequest) (T, bool) {
	var params T
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "exactly one parameter object expected")
		return params, false
	}
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return params, false
	}
	return params, true
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return decoded.Array(), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func formatAgreementJSON(agr *escrow.Agreement) agreementJSON {
	if agr == nil {
		return agreementJSON{}
	}
	amount := "0"
	if agr.Amount != nil {
		amount = agr.Amount.String()
	}
	return agreementJSON{
		ID:          escrow.FormatID(agr.ID),
		Client:      crypto.MustNewAddress(crypto.EscrowPrefix, agr.Client[:]).String(),
		Provider:    crypto.MustNewAddress(crypto.EscrowPrefix, agr.Provider[:]).String(),
		Amount:      amount,
		Description: agr.Description,
		Status:      agr.Status.String(),
		CreatedAt:   agr.CreatedAt,
		UpdatedAt:   agr.UpdatedAt,
	}
}

// escrowErrorData rides in the JSON-RPC error data field. Kind carries the
// engine sentinel as a stable token so clients resolve the exact error without
// parsing the human-readable detail.
type escrowErrorData struct {
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail"`
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrInvalidAmount) || errors.Is(err, escrow.ErrInvalidProvider):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrNotAuthorized):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, escrow.ErrNotReserved):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, escrowErrorData{
		Kind:   escrow.ErrorKind(err),
		Detail: err.Error(),
	})
}
