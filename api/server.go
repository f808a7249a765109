package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/twsbridge/pkg/broker"
	"github.com/gregtusar/twsbridge/pkg/contract"
	"github.com/gregtusar/twsbridge/pkg/correlator"
	"github.com/gregtusar/twsbridge/pkg/models"
	"github.com/gregtusar/twsbridge/pkg/orders"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Server struct {
	client *broker.Client
	logger *logrus.Logger
	port   string
}

func NewServer(client *broker.Client, logger *logrus.Logger, port string) *Server {
	return &Server{
		client: client,
		logger: logger,
		port:   port,
	}
}

func (s *Server) Start() error {
	s.logger.Infof("Starting API server on port %s", s.port)
	return http.ListenAndServe(":"+s.port, s.Handler())
}

// Handler wires every route; it is also what tests drive.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("PATCH /api/orders/{id}", s.handleModifyOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)

	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/positions/{symbol}", s.handlePosition)

	mux.HandleFunc("GET /api/quotes", s.handleQuotes)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/history/{symbol}", s.handleHistory)

	mux.HandleFunc("GET /api/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("POST /api/subscriptions", s.handleSubscribe)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", s.handleUnsubscribe)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.client.Metrics().Registry, promhttp.HandlerOpts{}))

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := "healthy"
	if !s.client.IsConnected() {
		status = http.StatusServiceUnavailable
		health = "disconnected"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status":          health,
		"order_ids_ready": s.client.OrderIDsReady(),
		"timestamp":       time.Now().UTC(),
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.client.SubmitOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.Filter{
		Symbols:   splitSymbols(q.Get("symbols")),
		Side:      models.OrderSide(strings.ToUpper(q.Get("side"))),
		Status:    orders.StatusFilter(q.Get("status")),
		Direction: orders.Direction(q.Get("direction")),
	}
	var err error
	if f.After, err = parseTime(q.Get("after")); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.client.ListOrders(r.Context(), f, q.Get("refresh") == "true")
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := s.client.GetOrder(id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

type modifyRequest struct {
	Quantity    decimal.Decimal `json:"quantity"`
	TimeInForce string          `json:"time_in_force"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var body modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.client.ModifyOrder(r.Context(), id, orders.Modification{
		Quantity:    body.Quantity,
		TimeInForce: body.TimeInForce,
		LimitPrice:  body.LimitPrice,
		StopPrice:   body.StopPrice,
	})
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.client.CancelOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	res, err := s.client.Positions(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	res, err := s.client.Position(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if !res.Found {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, res)
}

// handleQuotes serves ?symbols=A,B. With since=<duration> it only reads the
// cache; with snapshot=true it asks for one-shot snapshots.
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbols := splitSymbols(q.Get("symbols"))
	if len(symbols) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("symbols is required"))
		return
	}

	if since := q.Get("since"); since != "" {
		window, err := time.ParseDuration(since)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.client.QuotesSince(symbols, window))
		return
	}

	var (
		res broker.QuoteResult
		err error
	)
	if q.Get("snapshot") == "true" {
		res, err = s.client.SnapshotQuotes(r.Context(), symbols)
	} else {
		res, err = s.client.LatestQuotes(r.Context(), symbols)
	}
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbols := splitSymbols(q.Get("symbols"))
	if len(symbols) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("symbols is required"))
		return
	}

	if since := q.Get("since"); since != "" {
		window, err := time.ParseDuration(since)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusOK, s.client.TradesSince(symbols, window))
		return
	}

	res, err := s.client.LatestTrades(r.Context(), symbols)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := broker.HistoricalRequest{
		Symbol:      r.PathValue("symbol"),
		EndDateTime: q.Get("end"),
		Duration:    q.Get("duration"),
		BarSize:     q.Get("bar_size"),
		WhatToShow:  q.Get("what_to_show"),
	}
	if rth := q.Get("use_rth"); rth != "" {
		v, err := strconv.ParseBool(rth)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.UseRTH = &v
	}
	var err error
	if req.Limit, err = parseInt(q.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.client.HistoricalBars(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	channel := correlator.Channel(r.URL.Query().Get("channel"))
	s.writeJSON(w, http.StatusOK, s.client.Subscriptions(channel))
}

type subscribeRequest struct {
	Symbols []string           `json:"symbols"`
	Channel correlator.Channel `json:"channel"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Channel == correlator.ChannelNone {
		body.Channel = correlator.ChannelQuote
	}

	subs, err := s.client.Subscribe(r.Context(), body.Symbols, body.Channel)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusCreated, subs)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.client.Unsubscribe(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrNotConnected):
		return http.StatusServiceUnavailable
	case broker.IsNotFound(err), errors.Is(err, broker.ErrUnknownSubscription):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrInvalidOrder), errors.Is(err, contract.ErrInvalidSymbolFormat):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	return n, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
