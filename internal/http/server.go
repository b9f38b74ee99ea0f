package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/courier-dispatch/internal/bidding"
	"github.com/example/courier-dispatch/internal/config"
	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/ingest"
	"github.com/example/courier-dispatch/internal/lifecycle"
	"github.com/example/courier-dispatch/internal/location"
	"github.com/example/courier-dispatch/internal/narrative"
	"github.com/example/courier-dispatch/internal/orders"
	"github.com/example/courier-dispatch/internal/registry"
	"github.com/example/courier-dispatch/internal/search"
	"github.com/example/courier-dispatch/internal/storage"
)

type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	Registry  registry.Registry
	Locations location.Store
	Search    *search.Service
	Engine    *bidding.Engine
	Machine   *lifecycle.Machine
	Kafka     *ingest.KafkaProducer
	WSReg     *dispatch.WSRegistry

	mux *mux.Router
}

// NewServer wires the engine from configuration: Redis-backed stores and
// Postgres persistence when configured, in-memory fallbacks otherwise.
func NewServer(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var locStore location.Store
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		locStore = location.NewRedisStore(rc, cfg.RedisGeoKey, cfg.StaleAfter)
	} else {
		locStore = location.NewMemoryStore(cfg.StaleAfter)
	}

	var reg registry.Registry
	var decisions storage.DecisionStore
	if cfg.PGDSN != "" {
		pgReg, err := registry.NewPostgresRegistry(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		reg = pgReg
		pgStore, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		decisions = pgStore
	} else {
		reg = registry.NewMemoryRegistry()
		decisions = storage.NewMemoryStore()
	}

	var src orders.Source
	if cfg.OrderSource != "" {
		src = orders.NewHTTPSource(cfg.OrderSource)
	} else {
		src = orders.NewMemorySource()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	wsreg := dispatch.NewWSRegistry()
	machine := lifecycle.NewMachine(reg)

	engine := bidding.NewEngine(src, decisions)
	engine.Registry = reg
	engine.Machine = machine
	engine.Dispatch = dispatch.NewPushDispatcher(cfg.PushEndpoint, wsreg)
	engine.Logger = logger
	engine.DefaultWindow = cfg.RoundWindow
	engine.DefaultMinBids = cfg.RoundMinBids
	if cfg.GeminiAPIKey != "" {
		narrator, err := narrative.NewGemini(ctx, cfg.GeminiAPIKey)
		if err != nil {
			logger.Warn("narrative disabled", "error", err)
		} else {
			engine.Narrator = narrator
		}
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		Registry:  reg,
		Locations: locStore,
		Search:    &search.Service{Registry: reg, Locations: locStore, MaxRadiusKm: cfg.SearchRadiusKm},
		Engine:    engine,
		Machine:   machine,
		Kafka:     kp,
		WSReg:     wsreg,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/courier/locations", s.handleLocationReport).Methods("POST")
	s.mux.HandleFunc("/api/v1/couriers/{courier_id}/reports", s.handleReportHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/search", s.handleSearch).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/round", s.handleOpenRound).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/resolve", s.handleResolve).Methods("POST")
	s.mux.HandleFunc("/api/v1/orders/{order_id}/transition", s.handleTransition).Methods("POST")
	s.mux.HandleFunc("/api/v1/bids", s.handleSubmitBid).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{courier_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
