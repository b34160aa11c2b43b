// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/crypto-temple/internal/adapter"
	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/metrics"
	"github.com/crypto-temple/internal/service"
	"github.com/crypto-temple/internal/types"
)

// Service interfaces for dependency injection and testing

// WalletService reads wallet snapshots
type WalletService interface {
	Snapshot(ctx context.Context, address string) (*types.WalletSnapshot, error)
}

// SessionService tracks wallet connections
type SessionService interface {
	Connect(address string) (service.Session, error)
	Switch(id, address string) (service.Session, error)
	Disconnect(id string) error
	Get(id string) (service.Session, error)
}

// DivinationService runs a divination and records it
type DivinationService interface {
	Divine(ctx context.Context, address string, project types.ProjectInfo) (*types.HistoryRecord, error)
}

// HistoryService reads history and stores feedback
type HistoryService interface {
	List(ctx context.Context) ([]types.HistoryRecord, error)
	Feedback(ctx context.Context, id string, verdict types.Feedback) (*types.HistoryRecord, error)
}

// NotificationService exposes the scanner's pending verification
type NotificationService interface {
	Pending() (types.HistoryRecord, bool)
	Dismiss()
	Resolve(id string)
	SetEnabled(enabled bool)
	Enabled() bool
}

// PaymentService sends and tracks donations
type PaymentService interface {
	Donate(ctx context.Context, currency types.Currency, amount string) (*types.Donation, error)
	Get(id string) (*types.Donation, error)
	Status() service.PaymentStatus
}

// ChainHealth reports the state of the JSON-RPC endpoints
type ChainHealth interface {
	Health() *adapter.ProviderHealth
}

// Services bundles the handlers' dependencies. Hub is optional; without
// it the websocket route is not registered. Chain is optional too.
type Services struct {
	Wallets       WalletService
	Sessions      SessionService
	Divinations   DivinationService
	History       HistoryService
	Notifications NotificationService
	Payments      PaymentService
	Hub           http.Handler
	Chain         ChainHealth
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Address           string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	TrustedProxies    []string
	RequestsPerMinute int
	Burst             int
	MetricsPath       string
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	handler     http.Handler
	httpServer  *http.Server
	services    Services
	metrics     metrics.Provider
	rateLimiter *RateLimiter
	config      *ServerConfig
	now         func() time.Time
	logger      *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services, m metrics.Provider) *Server {
	if m == nil {
		m = metrics.New(false)
	}
	logger := logging.WithComponent("api")
	proxies, err := parseTrustedProxies(config.TrustedProxies)
	if err != nil {
		logger.WithError(err).Warn("Ignoring trusted proxies; rate limiting by remote address")
		proxies = nil
	}
	s := &Server{
		router:      mux.NewRouter(),
		services:    services,
		metrics:     m,
		rateLimiter: NewRateLimiter(config.RequestsPerMinute, config.Burst, proxies),
		config:      config,
		now:         time.Now,
		logger:      logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Order matters: logging sees the final status, recovery sits inside it.
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(MetricsMiddleware(s.metrics))

	s.setupRoutes()

	// CORS wraps the router itself: preflight requests match no route.
	s.handler = CORSMiddleware(s.config.CORSOrigins)(s.router)

	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	metricsPath := s.config.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.router.Handle(metricsPath, s.metrics.Handler()).Methods(http.MethodGet)

	if s.services.Hub != nil {
		s.router.Handle("/ws/notifications", s.services.Hub).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(s.rateLimiter))
	api.Use(CompressionMiddleware)

	// Fortune and wallet endpoints
	api.HandleFunc("/fortune/{address}", s.handleFortune).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{address}/snapshot", s.handleSnapshot).Methods(http.MethodGet)

	// Session endpoints
	api.HandleFunc("/sessions", s.handleConnect).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleSwitchSession).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}", s.handleDisconnect).Methods(http.MethodDelete)

	// Divination and history endpoints
	api.HandleFunc("/divinations", s.handleDivine).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleListHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}/feedback", s.handleFeedback).Methods(http.MethodPost)

	// Notification endpoints
	api.HandleFunc("/notifications/pending", s.handlePendingNotification).Methods(http.MethodGet)
	api.HandleFunc("/notifications/pending", s.handleDismissNotification).Methods(http.MethodDelete)
	api.HandleFunc("/notifications/permission", s.handleGetPermission).Methods(http.MethodGet)
	api.HandleFunc("/notifications/permission", s.handleSetPermission).Methods(http.MethodPut)

	// Donation endpoints; the static status route must precede {id}
	api.HandleFunc("/donations", s.handleDonate).Methods(http.MethodPost)
	api.HandleFunc("/donations/status", s.handlePaymentStatus).Methods(http.MethodGet)
	api.HandleFunc("/donations/{id}", s.handleGetDonation).Methods(http.MethodGet)
}

// handleHealth handles health check requests.
// healthResponse is the body of /health. Snapshots degrade instead of
// failing when the chain is down, so an unhealthy RPC still answers 200.
type healthResponse struct {
	Status  string                  `json:"status"`
	Service string                  `json:"service"`
	RPC     *adapter.ProviderHealth `json:"rpc,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Service: "crypto-temple"}
	if s.services.Chain != nil {
		resp.RPC = s.services.Chain.Health()
		if !resp.RPC.Healthy {
			resp.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Handler returns the fully wired handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
