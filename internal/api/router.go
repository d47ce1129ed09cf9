package api

import (
	"io"
	"log/slog"
	"net/http"

	"custodychain/internal/ledger"
	"custodychain/internal/metrics"
	"custodychain/internal/orders"
	"custodychain/internal/processor"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

type Server struct {
	ledger *ledger.Ledger
	miner  *processor.Miner
	orders *orders.Service
	log    *slog.Logger
}

func NewServer(l *ledger.Ledger, miner *processor.Miner, svc *orders.Service, log *slog.Logger) *Server {
	return &Server{ledger: l, miner: miner, orders: svc, log: log}
}

func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/transactions", s.submitTransaction).Methods("POST")
	v1.HandleFunc("/transactions/pending", s.listPending).Methods("GET")
	v1.HandleFunc("/blocks", s.sealBlock).Methods("POST")
	v1.HandleFunc("/blocks", s.listBlocks).Methods("GET")
	v1.HandleFunc("/blocks/{index:[0-9]+}", s.getBlock).Methods("GET")
	v1.HandleFunc("/chain/verify", s.verifyChain).Methods("GET")
	v1.HandleFunc("/companies/{companyId}/history", s.companyHistory).Methods("GET")

	v1.HandleFunc("/orders", s.createOrder).Methods("POST")
	v1.HandleFunc("/orders/{orderId}", s.getOrder).Methods("GET")
	v1.HandleFunc("/orders/{orderId}/transitions", s.transitionOrder).Methods("POST")
	v1.HandleFunc("/orders/{orderId}/token", s.reissueToken).Methods("POST")
	v1.HandleFunc("/orders/{orderId}/code", s.deliveryCode).Methods("GET")
	v1.HandleFunc("/orders/{orderId}/alerts", s.listAlerts).Methods("GET")
	v1.HandleFunc("/transports/{transportId}", s.getTransport).Methods("GET")

	v1.HandleFunc("/deliveries/scan", s.scanDelivery).Methods("POST")
	v1.HandleFunc("/deliveries/confirm", s.confirmDelivery).Methods("POST")
	v1.HandleFunc("/deliveries/verify", s.verifyDelivery).Methods("POST")

	return r
}

// Handler wraps the router with CORS, panic recovery and access logging.
func (s *Server) Handler(allowedOrigins []string, accessLog io.Writer) http.Handler {
	var h http.Handler = s.NewRouter()
	h = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(false),
	)(h)
	return handlers.LoggingHandler(accessLog, h)
}

type recoveryLogger struct {
	log *slog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error("panic serving request", slog.Any("panic", v))
}
