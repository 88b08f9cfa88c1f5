package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"escrowd/core"
	"escrowd/observability"
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
	codeRateLimited    = -32020
)

// Server exposes the agreement node over JSON-RPC. It implements
// http.Handler so callers can mount it on any router.
type Server struct {
	node      *core.Node
	logger    *slog.Logger
	authToken string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewServer creates a JSON-RPC server over the node. The auth token guards
// every mutating method; an empty token rejects them all. ratePerSecond and
// burst bound how fast a single source may submit mutating requests.
func NewServer(node *core.Node, authToken string, ratePerSecond float64, burst int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	if burst <= 0 {
		burst = 5
	}
	return &Server{
		node:      node,
		logger:    logger.With("component", "rpc"),
		authToken: strings.TrimSpace(authToken),
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Limit(ratePerSecond),
		burst:     burst,
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ServeHTTP is the main request handler that routes to specific handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := s.dispatch(recorder, r)
	observability.RPCMetrics().Observe(method, recorder.status, time.Since(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) string {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return "unknown"
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return "unknown"
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return "unknown"
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return "unknown"
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return "unknown"
	}

	switch req.Method {
	case "escrow_reserve":
		s.guarded(w, r, req, s.handleEscrowReserve)
	case "escrow_unreserve":
		s.guarded(w, r, req, s.handleEscrowUnreserve)
	case "escrow_register":
		s.guarded(w, r, req, s.handleEscrowRegister)
	case "escrow_accept":
		s.guarded(w, r, req, s.handleEscrowAccept)
	case "escrow_release":
		s.guarded(w, r, req, s.handleEscrowRelease)
	case "escrow_refund":
		s.guarded(w, r, req, s.handleEscrowRefund)
	case "escrow_get":
		s.handleEscrowGet(w, r, req)
	case "escrow_list":
		s.handleEscrowList(w, r, req)
	case "escrow_custody":
		s.handleEscrowCustody(w, r, req)
	case "escrow_balance":
		s.handleEscrowBalance(w, r, req)
	case "escrow_listEvents":
		s.handleEscrowListEvents(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
	return req.Method
}

// guarded applies authentication and rate limiting before invoking the
// handler. Mutating methods go through here; read-only methods stay open.
func (s *Server) guarded(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(http.ResponseWriter, *http.Request, *RPCRequest)) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	source := clientSource(r)
	if !s.allowSource(source) {
		observability.RPCMetrics().RecordThrottle("rate_limit")
		s.logger.Warn("request throttled", "method", req.Method, "source", source)
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	fn(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
