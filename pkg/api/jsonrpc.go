package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/luxfi/log"
	metric "github.com/luxfi/metric"
	"github.com/luxfi/perps/pkg/metrics"
	"github.com/luxfi/perps/pkg/perp"
)

// Granter accepts signed authorization grants, typically an auth.Registry.
type Granter interface {
	Grant(principal string, nonce uint64, signed []byte) error
}

// JSONRPCServer handles JSON-RPC 2.0 requests against the perp engine
type JSONRPCServer struct {
	engine  *perp.Engine
	oracle  perp.PriceOracle
	granter Granter
	stats   *metrics.Metrics
	logger  log.Logger

	requests metric.Counter
	rejected metric.Counter
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(engine *perp.Engine, oracle perp.PriceOracle, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		engine:   engine,
		oracle:   oracle,
		logger:   logger,
		requests: metric.NewCounter("rpc_requests"),
		rejected: metric.NewCounter("rpc_rejected"),
	}
}

// SetGranter enables the perp_grant method. Without one the method is not
// found, which is correct for open-access deployments.
func (s *JSONRPCServer) SetGranter(g Granter) { s.granter = g }

// SetStats attaches Prometheus lifecycle counters.
func (s *JSONRPCServer) SetStats(m *metrics.Metrics) { s.stats = m }

func amountFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.requests.Inc()

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		s.rejected.Inc()
		rpcErr := asRPCError(err)
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Trade lifecycle
	case "perp_open":
		return s.open(params)
	case "perp_close":
		return s.close(params)
	case "perp_liquidate":
		return s.liquidate(params)
	case "perp_grant":
		return s.grant(params)

	// Read methods
	case "perp_settle":
		return s.settle(params)
	case "perp_getPosition":
		return s.getPosition(params)
	case "perp_getLedger":
		return s.getLedger(params)
	case "perp_getPrice":
		return s.getPrice(params)

	// Info methods
	case "perp_getInfo":
		return s.getInfo(params)
	case "perp_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

// asRPCError maps engine sentinel errors onto JSON-RPC codes. Size and
// lifecycle violations are the caller's fault; everything else is internal.
func asRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, perp.ErrZeroValue),
		errors.Is(err, perp.ErrPositionOpen),
		errors.Is(err, perp.ErrPositionNotOpen),
		errors.Is(err, perp.ErrAboveMargin):
		return &RPCError{Code: InvalidParams, Message: err.Error()}
	default:
		return &RPCError{Code: InternalError, Message: err.Error()}
	}
}

func parseValue(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("malformed value %q", s)}
	}
	return v, nil
}

// Open a position
func (s *JSONRPCServer) open(params json.RawMessage) (interface{}, error) {
	var p struct {
		Trader string `json:"trader"`
		Value  string `json:"value"`
		Long   bool   `json:"long"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	value, err := parseValue(p.Value)
	if err != nil {
		return nil, err
	}

	if err := s.engine.Open(p.Trader, value, p.Long); err != nil {
		s.logger.Warn("open rejected", "trader", p.Trader, "err", err)
		return nil, err
	}

	position, _ := s.engine.Position(p.Trader)
	if s.stats != nil {
		fee := new(big.Int).Sub(value, position.Value)
		s.stats.RecordOpen(amountFloat(fee))
	}

	return map[string]interface{}{
		"trader":   p.Trader,
		"position": position,
		"status":   "open",
	}, nil
}

// Close the trader's position
func (s *JSONRPCServer) close(params json.RawMessage) (interface{}, error) {
	var p struct {
		Trader string `json:"trader"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	settlement, err := s.engine.Close(p.Trader)
	if err != nil {
		s.logger.Warn("close rejected", "trader", p.Trader, "err", err)
		return nil, err
	}
	if s.stats != nil {
		s.stats.RecordClose(amountFloat(settlement))
	}

	return map[string]interface{}{
		"trader":     p.Trader,
		"settlement": settlement.String(),
		"status":     "closed",
	}, nil
}

// Liquidate an undercollateralized position
func (s *JSONRPCServer) liquidate(params json.RawMessage) (interface{}, error) {
	var p struct {
		Liquidator string `json:"liquidator"`
		Target     string `json:"target"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	reward, err := s.engine.Liquidate(p.Liquidator, p.Target)
	if err != nil {
		return nil, err
	}
	if s.stats != nil {
		s.stats.RecordLiquidation(amountFloat(reward))
	}

	s.logger.Info("position liquidated", "target", p.Target, "liquidator", p.Liquidator, "reward", reward)
	return map[string]interface{}{
		"target":     p.Target,
		"liquidator": p.Liquidator,
		"reward":     reward.String(),
		"status":     "liquidated",
	}, nil
}

// Submit a signed authorization grant
func (s *JSONRPCServer) grant(params json.RawMessage) (interface{}, error) {
	if s.granter == nil {
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}

	var p struct {
		Principal string `json:"principal"`
		Nonce     uint64 `json:"nonce"`
		Signed    string `json:"signed"` // base64
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	signed, err := base64.StdEncoding.DecodeString(p.Signed)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "signed must be base64"}
	}

	if err := s.granter.Grant(p.Principal, p.Nonce, signed); err != nil {
		s.logger.Warn("grant rejected", "principal", p.Principal, "err", err)
		return nil, err
	}

	return map[string]interface{}{
		"principal": p.Principal,
		"status":    "granted",
	}, nil
}

// Current settlement value of a position
func (s *JSONRPCServer) settle(params json.RawMessage) (interface{}, error) {
	var p struct {
		Trader string `json:"trader"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	settlement, err := s.engine.Settle(p.Trader)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"trader":     p.Trader,
		"settlement": settlement.String(),
	}, nil
}

// Get an open position
func (s *JSONRPCServer) getPosition(params json.RawMessage) (interface{}, error) {
	var p struct {
		Trader string `json:"trader"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	position, ok := s.engine.Position(p.Trader)
	if !ok {
		return nil, &RPCError{Code: InternalError, Message: "Position not found"}
	}
	return position, nil
}

// Ledger aggregates
func (s *JSONRPCServer) getLedger(params json.RawMessage) (interface{}, error) {
	var result map[string]interface{}
	s.engine.Ledger(func(l *perp.Ledger) {
		result = map[string]interface{}{
			"totalLong":         l.TotalLong().String(),
			"totalShort":        l.TotalShort().String(),
			"marginRequirement": l.MarginRequirement().String(),
			"openPositions":     l.OpenCount(),
			"closedPositions":   len(l.History()),
		}
	})
	return result, nil
}

// Current oracle price
func (s *JSONRPCServer) getPrice(params json.RawMessage) (interface{}, error) {
	price, err := s.oracle.CurrentPrice()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"asset": s.engine.Config().Asset,
		"price": price.String(),
	}, nil
}

// Engine info
func (s *JSONRPCServer) getInfo(params json.RawMessage) (interface{}, error) {
	cfg := s.engine.Config()
	return map[string]interface{}{
		"version":   "1.0.0",
		"asset":     cfg.Asset,
		"leverage":  cfg.Leverage,
		"token":     cfg.SettlementToken,
		"timestamp": time.Now().Unix(),
	}, nil
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Serve runs the server on the given port until ctx is cancelled.
func (s *JSONRPCServer) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/", s)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	s.logger.Info("JSON-RPC server started", "port", port)
	return httpServer.ListenAndServe()
}

// StartJSONRPCServer starts the JSON-RPC server
func StartJSONRPCServer(ctx context.Context, port int, engine *perp.Engine, oracle perp.PriceOracle, logger log.Logger) error {
	return NewJSONRPCServer(engine, oracle, logger).Serve(ctx, port)
}
