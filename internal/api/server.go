package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"trading/internal/engine"
	"trading/internal/model"
	"trading/internal/obs"
	"trading/pkg/exception"
)

const (
	stateWorking   = "working"
	stateCompleted = "completed"
	stateOpen      = "open"
	stateClosed    = "closed"
)

type Config struct {
	Addr           string
	AllowedOrigins []string
	// FeedBuffer is the per-client websocket queue length.
	FeedBuffer int
}

// Server exposes the engine's cache, portfolio and metrics over HTTP and
// streams processed events on /ws.
type Server struct {
	cfg    Config
	engine *engine.Engine
	hub    *Hub
	router *mux.Router
	logger obs.Logger
	http   *http.Server
}

// NewServer builds the routes and subscribes the event feed to eng.
func NewServer(cfg Config, eng *engine.Engine, logger obs.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		hub:    NewHub(logger, cfg.FeedBuffer),
		router: mux.NewRouter(),
		logger: logger,
	}
	s.routes()
	eng.Subscribe(s.hub.Publish)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(obs.NewRegistry(s.engine.Metrics()), promhttp.HandlerOpts{}))
	s.router.Handle("/ws", s.hub)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	v1.HandleFunc("/orders", s.handleOrders).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}", s.handleOrder).Methods(http.MethodGet)
	v1.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	v1.HandleFunc("/positions/{id}", s.handlePosition).Methods(http.MethodGet)
	v1.HandleFunc("/portfolio/{instrument:.+}", s.handlePortfolio).Methods(http.MethodGet)
}

// Handler returns the router behind the CORS layer.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.router)
}

func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("api listening on %s", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes the feed and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

type healthResponse struct {
	Status     string         `json:"status"`
	TraderID   model.TraderID `json:"traderId"`
	Pending    int            `json:"pending"`
	Strategies int            `json:"strategies"`
	Venues     []model.Venue  `json:"venues"`
	FeedSeq    uint64         `json:"feedSeq"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		TraderID:   s.engine.TraderID(),
		Pending:    s.engine.Pending(),
		Strategies: len(s.engine.RegisteredStrategies()),
		Venues:     s.engine.RegisteredVenues(),
		FeedSeq:    s.hub.LastSeq(),
	})
}

type strategySummary struct {
	ID              model.StrategyID `json:"id"`
	OrdersTotal     int              `json:"ordersTotal"`
	OrdersWorking   int              `json:"ordersWorking"`
	OrdersCompleted int              `json:"ordersCompleted"`
	PositionsOpen   int              `json:"positionsOpen"`
	PositionsClosed int              `json:"positionsClosed"`
	Flat            bool             `json:"flat"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	c := s.engine.Cache()
	ids := s.engine.RegisteredStrategies()
	out := make([]strategySummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, strategySummary{
			ID:              id,
			OrdersTotal:     c.OrdersTotalCount(id),
			OrdersWorking:   c.OrdersWorkingCount(id),
			OrdersCompleted: c.OrdersCompletedCount(id),
			PositionsOpen:   c.PositionsOpenCount(id),
			PositionsClosed: c.PositionsClosedCount(id),
			Flat:            c.IsFlat(id),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	c := s.engine.Cache()
	strategy := model.StrategyID(r.URL.Query().Get("strategy"))

	var orders []model.Order
	switch state := r.URL.Query().Get("state"); state {
	case "":
		orders = c.Orders(strategy)
	case stateWorking:
		orders = c.OrdersWorking(strategy)
	case stateCompleted:
		orders = c.OrdersCompleted(strategy)
	default:
		respondError(w, http.StatusBadRequest, fmt.Errorf("%w: order state %q", exception.ErrInvalidArgument, state))
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.Cache().Order(model.ClientOrderID(mux.Vars(r)["id"]))
	if err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	c := s.engine.Cache()
	strategy := model.StrategyID(r.URL.Query().Get("strategy"))

	var positions []model.Position
	switch state := r.URL.Query().Get("state"); state {
	case "":
		positions = c.Positions(strategy)
	case stateOpen:
		positions = c.PositionsOpen(strategy)
	case stateClosed:
		positions = c.PositionsClosed(strategy)
	default:
		respondError(w, http.StatusBadRequest, fmt.Errorf("%w: position state %q", exception.ErrInvalidArgument, state))
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	position, err := s.engine.Cache().Position(model.PositionID(mux.Vars(r)["id"]))
	if err != nil {
		respondError(w, statusOf(err), err)
		return
	}
	respondJSON(w, http.StatusOK, position)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	instrument := model.InstrumentID(mux.Vars(r)["instrument"])
	respondJSON(w, http.StatusOK, s.engine.Portfolio().Exposure(instrument))
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, exception.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exception.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorResponse{Error: err.Error()})
}
