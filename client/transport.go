package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"escrowd/native/escrow"
)

// ErrTransport marks failures where the request may or may not have reached
// the ledger. Callers must treat the outcome of the attempted operation as
// unknown rather than failed.
var ErrTransport = errors.New("escrow client: transport failure")

// Transport performs a single JSON-RPC call against the ledger daemon.
type Transport interface {
	Call(ctx context.Context, method string, params interface{}, out interface{}) error
}

// RPCTransport implements Transport over HTTP JSON-RPC.
type RPCTransport struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewRPCTransport creates a transport against the daemon at baseURL. The auth
// token is attached as a bearer credential on every request.
func NewRPCTransport(baseURL, authToken string) *RPCTransport {
	return &RPCTransport{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		authToken: strings.TrimSpace(authToken),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Call issues the JSON-RPC request and decodes the result into out. RPC-level
// errors are translated back into the engine's sentinel errors so callers can
// use errors.Is regardless of whether the engine runs in or out of process.
func (t *RPCTransport) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := t.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []interface{}{params},
		ID:      id,
	}
	if params == nil {
		bodyStruct.Params = []interface{}{}
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransport, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransport, method, err)
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("%w: %s: status=%d body=%s", ErrTransport, method, resp.StatusCode, string(body))
	}
	if rpcResp.Error != nil {
		return translateRPCError(rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("%w: %s: empty result", ErrTransport, method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// RPC error codes assigned by the daemon.
const (
	rpcCodeInvalidParams = -32021
	rpcCodeNotFound      = -32022
	rpcCodeForbidden     = -32023
	rpcCodeConflict      = -32024
)

// rpcErrorData mirrors the daemon's error data payload. Kind names the engine
// sentinel; Detail is the human-readable cause.
type rpcErrorData struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func translateRPCError(obj *jsonRPCErrorObj) error {
	detail := obj.Message
	var data rpcErrorData
	if len(obj.Data) > 0 {
		if err := json.Unmarshal(obj.Data, &data); err == nil {
			if data.Detail != "" {
				detail = data.Detail
			}
		} else {
			var plain string
			if err := json.Unmarshal(obj.Data, &plain); err == nil && plain != "" {
				detail = plain
			}
		}
	}
	if sentinel := escrow.KindError(data.Kind); sentinel != nil {
		return fmt.Errorf("%s: %w", detail, sentinel)
	}
	// No kind in the payload: fall back to the coarser code mapping.
	switch obj.Code {
	case rpcCodeInvalidParams:
		return fmt.Errorf("%s: %w", detail, escrow.ErrInvalidAmount)
	case rpcCodeNotFound:
		return fmt.Errorf("%s: %w", detail, escrow.ErrNotFound)
	case rpcCodeForbidden:
		return fmt.Errorf("%s: %w", detail, escrow.ErrNotAuthorized)
	case rpcCodeConflict:
		return fmt.Errorf("%s: %w", detail, escrow.ErrInvalidState)
	default:
		return fmt.Errorf("escrow client: rpc error %d: %s", obj.Code, detail)
	}
}
