// Package api exposes the host's REST surface: order submission into the
// watcher, pair matching through the settlement engine, and balance reads,
// plus a websocket feed of settlement results.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/haryshwaran/crossmatch/params"
	"github.com/haryshwaran/crossmatch/pkg/exchange"
	"github.com/haryshwaran/crossmatch/pkg/ledger"
	"github.com/haryshwaran/crossmatch/pkg/watcher"
)

type Server struct {
	cfg     params.Config
	engine  *exchange.SettlementEngine
	watcher *watcher.OrderWatcher
	ledger  ledger.Ledger
	router  *mux.Router
	hub     *Hub
	log     *zap.Logger
}

func NewServer(cfg params.Config, engine *exchange.SettlementEngine, w *watcher.OrderWatcher, l ledger.Ledger, log *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		watcher: w,
		ledger:  l,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/balances/{address}", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/watcher/stats", s.handleWatcherStats).Methods("GET")

	s.router.HandleFunc("/ws", s.hub.serveWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var order exchange.SignedOrder
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.watcher.Add(&order, time.Now()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

type matchRequest struct {
	Left    exchange.SignedOrder `json:"left"`
	Right   exchange.SignedOrder `json:"right"`
	Matcher common.Address       `json:"matcherAddress"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.MatchOrders(&req.Left, &req.Right, req.Matcher)
	if err != nil {
		s.log.Warn("match rejected", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	// Settled orders are no longer pending.
	if err := s.watcher.Remove(res.LeftOrderHash); err != nil {
		s.log.Warn("watcher remove", zap.Error(err))
	}
	if err := s.watcher.Remove(res.RightOrderHash); err != nil {
		s.log.Warn("watcher remove", zap.Error(err))
	}
	s.log.Info("orders matched",
		zap.String("left", res.LeftOrderHash.Hex()),
		zap.String("right", res.RightOrderHash.Hex()),
		zap.String("leftFill", res.LeftFillAmount.String()),
		zap.String("rightFill", res.RightFillAmount.String()),
	)
	s.hub.Broadcast(res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr := common.HexToAddress(mux.Vars(r)["address"])
	balances := make(map[string]string, len(s.cfg.Tokens))
	for symbol, token := range s.cfg.Tokens {
		asset := exchange.EncodeERC20AssetData(token.Address)
		balances[symbol] = s.ledger.BalanceOf(addr, asset).String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  addr.Hex(),
		"balances": balances,
	})
}

func (s *Server) handleWatcherStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Stats())
}

// statusFor maps the exchange error taxonomy onto HTTP statuses. Validation
// failures are the client's fault; collaborator and invariant failures are
// the server's.
func statusFor(err error) int {
	switch {
	case errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrNonCrossing),
		errors.Is(err, exchange.ErrExpiredOrder),
		errors.Is(err, exchange.ErrInvalidSignature),
		errors.Is(err, exchange.ErrAllowance),
		errors.Is(err, exchange.ErrOrderAlreadyFilled):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
