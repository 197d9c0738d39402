package stream

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/memeperp/venue/internal/fixedpoint"
	"github.com/memeperp/venue/internal/market"
	"github.com/memeperp/venue/internal/orderbook"
	"github.com/memeperp/venue/internal/signing"
	"github.com/memeperp/venue/internal/types"
	"github.com/memeperp/venue/internal/verrors"
)

// Venue is the read/write surface the stream server calls into; satisfied
// by internal/venue's composition root. Kept as an interface here so
// stream never imports the composition root (it would import stream).
type Venue interface {
	ListMarkets() []*market.Market
	GetMarket(symbol string) (*market.Market, error)
	GetDepth(symbol string, levels int) (longs, shorts []orderbook.PriceLevel, err error)
	GetUserOrders(trader common.Address) []*types.Order
	GetTrades(symbol string, limit int) []market.Trade
	GetUserPositions(trader common.Address) []*types.Pair
	GetBalance(trader common.Address) (types.Balance, bool)
	GetFunding(symbol string) types.MarketStats
	GetKlines(symbol string, interval market.Interval, limit int) []market.Candle
	GetStats(symbol string) types.MarketStats
	GetLiquidationMap(symbol string) []types.Pair
	GetInsuranceFund(symbol string) (symbolBalance, global fixedpoint.USD)

	SubmitOrder(o *types.Order, intent *signing.OrderIntent, signature []byte) ([]types.Match, error)
	CancelOrder(symbol, orderID string, trader common.Address) (*types.Order, error)
	ClosePair(pairID string, trader common.Address, ratioBps fixedpoint.Bps) error
	SetTPSL(pairID string, trader common.Address, takeProfit, stopLoss fixedpoint.Price) error
}

// Server is the REST + websocket front door, grounded on the teacher's
// pkg/api/server.go route table and mux/cors wiring, retargeted from the
// consensus-era account/chain endpoints to spec.md §6.3's query surface
// and §6.1's signed-intent submission.
type Server struct {
	venue  Venue
	router *mux.Router
	hub    *Hub
	logger *zap.Logger
}

// NewServer wires a REST/websocket front door around an existing Hub —
// the same Hub the composition root publishes fills/liquidations to,
// so a client subscribed before the first publish sees it.
func NewServer(venue Venue, hub *Hub, logger *zap.Logger) *Server {
	s := &Server{
		venue:  venue,
		router: mux.NewRouter(),
		hub:    hub,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleListMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{symbol}/klines", s.handleGetKlines).Methods("GET")
	api.HandleFunc("/markets/{symbol}/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/markets/{symbol}/funding", s.handleGetFunding).Methods("GET")
	api.HandleFunc("/markets/{symbol}/liquidation-map", s.handleGetLiquidationMap).Methods("GET")
	api.HandleFunc("/insurance-fund", s.handleGetInsuranceFund).Methods("GET")
	api.HandleFunc("/insurance-fund/{symbol}", s.handleGetInsuranceFund).Methods("GET")

	api.HandleFunc("/traders/{address}/balance", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/traders/{address}/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/traders/{address}/orders", s.handleGetOrders).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/positions/close", s.handleClosePair).Methods("POST")
	api.HandleFunc("/positions/tpsl", s.handleSetTPSL).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"})
	}).Methods("GET")
}

func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})
	s.logger.Info("stream server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &Client{hub: s.hub, conn: conn, send: make(chan []byte, 256), subs: make(map[string]struct{})}
	s.hub.register(c)
	go c.writePump()
	go c.readPump()
}

// ---- query handlers ----

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.venue.ListMarkets())
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	m, err := s.venue.GetMarket(symbol)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, m)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	levels := intQuery(r, "levels", 20)
	longs, shorts, err := s.venue.GetDepth(symbol, levels)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"symbol": symbol, "longs": longs, "shorts": shorts})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := intQuery(r, "limit", 100)
	respondJSON(w, s.venue.GetTrades(symbol, limit))
}

func (s *Server) handleGetKlines(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	iv := market.Interval(r.URL.Query().Get("interval"))
	if iv == "" {
		iv = market.Interval1m
	}
	limit := intQuery(r, "limit", 200)
	respondJSON(w, s.venue.GetKlines(symbol, iv, limit))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	respondJSON(w, s.venue.GetStats(symbol))
}

func (s *Server) handleGetFunding(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	respondJSON(w, s.venue.GetFunding(symbol))
}

func (s *Server) handleGetLiquidationMap(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	respondJSON(w, s.venue.GetLiquidationMap(symbol))
}

func (s *Server) handleGetInsuranceFund(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"] // empty for the global fund
	symBal, global := s.venue.GetInsuranceFund(symbol)
	respondJSON(w, map[string]fixedpoint.USD{"symbol_balance": symBal, "global_balance": global})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	b, _ := s.venue.GetBalance(addr)
	respondJSON(w, b)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, s.venue.GetUserPositions(addr))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, s.venue.GetUserOrders(addr))
}

// ---- intent handlers ----

// submitOrderRequest is the wire shape of a signed order intent, spec.md
// §6.1: the intent fields plus its EIP-712 signature. Numeric fields are
// JSON integers already in fixedpoint's scaled units, decoded straight into
// int64; only the signature is a hex string.
type submitOrderRequest struct {
	Trader        string `json:"trader"`
	Symbol        string `json:"symbol"`
	Side          uint8  `json:"side"`
	Type          uint8  `json:"type"`
	TIF           uint8  `json:"tif"`
	ReduceOnly    bool   `json:"reduce_only"`
	PostOnly      bool   `json:"post_only"`
	Size          int64  `json:"size"`
	Leverage      int64  `json:"leverage_bps"`
	Price         int64  `json:"price"`
	TriggerPrice  int64  `json:"trigger_price"`
	TrailingBps   int64  `json:"trailing_distance_bps"`
	DeadlineUnix  int64  `json:"deadline_unix"`
	Nonce         uint64 `json:"nonce"`
	ClientOrderID string `json:"client_order_id"`
	SignatureHex  string `json:"signature"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, verrors.Validation("bad_body", err.Error()))
		return
	}
	addr, ok := parseAddress(w, req.Trader)
	if !ok {
		return
	}
	sig, err := decodeHex(req.SignatureHex)
	if err != nil {
		respondErr(w, verrors.Validation("bad_signature_hex", err.Error()))
		return
	}

	intent := &signing.OrderIntent{
		Trader:        addr,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TIF:           req.TIF,
		ReduceOnly:    req.ReduceOnly,
		PostOnly:      req.PostOnly,
		Size:          bigFrom(req.Size),
		Leverage:      bigFrom(req.Leverage),
		Price:         bigFrom(req.Price),
		TriggerPrice:  bigFrom(req.TriggerPrice),
		Deadline:      bigFrom(req.DeadlineUnix),
		Nonce:         bigFrom(int64(req.Nonce)),
		ClientOrderID: req.ClientOrderID,
	}

	o := &types.Order{
		ClientOrderID:       req.ClientOrderID,
		Trader:              addr,
		Symbol:              req.Symbol,
		Side:                types.Side(req.Side),
		Type:                types.OrderType(req.Type),
		TIF:                 types.TimeInForce(req.TIF),
		ReduceOnly:          req.ReduceOnly,
		PostOnly:            req.PostOnly,
		Size:                fixedpoint.Size(req.Size),
		Leverage:            fixedpoint.Bps(req.Leverage),
		Price:               fixedpoint.Price(req.Price),
		TriggerPrice:        fixedpoint.Price(req.TriggerPrice),
		TrailingDistanceBps: fixedpoint.Bps(req.TrailingBps),
		DeadlineUnix:        req.DeadlineUnix,
		Nonce:               req.Nonce,
		SignatureHex:        req.SignatureHex,
		Status:              types.OrderPending,
		CreatedAt:           time.Now(),
	}

	matches, err := s.venue.SubmitOrder(o, intent, sig)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"order": o, "matches": matches})
}

type cancelRequest struct {
	Trader  string `json:"trader"`
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, verrors.Validation("bad_body", err.Error()))
		return
	}
	addr, ok := parseAddress(w, req.Trader)
	if !ok {
		return
	}
	o, err := s.venue.CancelOrder(req.Symbol, req.OrderID, addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, o)
}

type closeRequest struct {
	Trader   string `json:"trader"`
	PairID   string `json:"pair_id"`
	RatioBps int64  `json:"ratio_bps"`
}

func (s *Server) handleClosePair(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, verrors.Validation("bad_body", err.Error()))
		return
	}
	addr, ok := parseAddress(w, req.Trader)
	if !ok {
		return
	}
	if err := s.venue.ClosePair(req.PairID, addr, fixedpoint.Bps(req.RatioBps)); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "closed"})
}

type tpslRequest struct {
	Trader     string `json:"trader"`
	PairID     string `json:"pair_id"`
	TakeProfit int64  `json:"take_profit"`
	StopLoss   int64  `json:"stop_loss"`
}

func (s *Server) handleSetTPSL(w http.ResponseWriter, r *http.Request) {
	var req tpslRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, verrors.Validation("bad_body", err.Error()))
		return
	}
	addr, ok := parseAddress(w, req.Trader)
	if !ok {
		return
	}
	if err := s.venue.SetTPSL(req.PairID, addr, fixedpoint.Price(req.TakeProfit), fixedpoint.Price(req.StopLoss)); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "updated"})
}

// ---- helpers ----

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	if ve, ok := err.(*verrors.Error); ok {
		code = ve.Code
		switch ve.Kind {
		case verrors.KindValidation:
			status = http.StatusBadRequest
		case verrors.KindState:
			status = http.StatusConflict
		case verrors.KindPolicy:
			status = http.StatusUnprocessableEntity
		case verrors.KindResource:
			status = http.StatusServiceUnavailable
		case verrors.KindInvariant:
			status = http.StatusInternalServerError
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": err.Error()})
}

func parseAddress(w http.ResponseWriter, hexAddr string) (common.Address, bool) {
	if !common.IsHexAddress(hexAddr) {
		respondErr(w, verrors.Validation("bad_address", "not a valid hex address"))
		return common.Address{}, false
	}
	return common.HexToAddress(hexAddr), true
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func bigFrom(n int64) *big.Int { return big.NewInt(n) }

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
