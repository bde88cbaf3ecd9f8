// Package server wires the HTTP routes of the order API onto handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/printshopapp/printshop/internal/auth"
	"github.com/printshopapp/printshop/internal/config"
	"github.com/printshopapp/printshop/internal/handlers"
)

const (
	readTimeout       = 15 * time.Second
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	maxHeaderBytes    = 1 << 20
)

type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
}

type route struct {
	name    string
	method  string
	path    string
	handler http.HandlerFunc
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers, verifier *auth.Verifier) (*Server, error) {
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("server: config is required")
	case logger == nil:
		return nil, fmt.Errorf("server: logger is required")
	case h == nil:
		return nil, fmt.Errorf("server: handlers are required")
	case verifier == nil:
		return nil, fmt.Errorf("server: token verifier is required")
	}

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort("", cfg.Port),
			Handler:           newRouter(h, verifier),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
	}, nil
}

// Run blocks until the server fails or Close is called. A closed server
// returns nil.
func (s *Server) Run() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close drains in-flight requests until ctx expires.
func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	start := time.Now()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("server stopped", "drain_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func newRouter(h *handlers.Handlers, verifier *auth.Verifier) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.RequestLogger, h.MetricsContext, h.SecurityHeaders)
	r.NotFoundHandler = jsonStatus(http.StatusNotFound, "not found")
	r.MethodNotAllowedHandler = jsonStatus(http.StatusMethodNotAllowed, "method not allowed")

	// Webhooks authenticate by payload signature, not bearer token.
	mount(r, []route{
		{"health", http.MethodGet, "/health", h.Health},
		{"webhooks.payment", http.MethodPost, "/payment-webhook", h.PaymentWebhook},
		{"webhooks.fulfillment", http.MethodPost, "/fulfillment-webhook", h.FulfillmentWebhook},
		{"webhooks.tracking", http.MethodPost, "/tracking-webhook", h.TrackingWebhook},
	})

	orders := r.PathPrefix("/orders").Subrouter()
	orders.Use(verifier.RequireUser)
	mount(orders, []route{
		{"orders.create", http.MethodPost, "", h.CreateOrder},
		{"orders.list", http.MethodGet, "", h.ListOrders},
		{"orders.get", http.MethodGet, "/{id}", h.GetOrder},
		{"orders.cancel", http.MethodPut, "/{id}/cancel", h.CancelOrder},
		{"orders.payment_intent", http.MethodPost, "/{id}/payment-intent", h.CreatePaymentIntent},
		{"orders.payments", http.MethodGet, "/{id}/payments", h.ListPayments},
		{"orders.shipping_address", http.MethodPut, "/{id}/shipping-address", h.UpdateShippingAddress},
	})

	admin := r.PathPrefix("/admin/orders").Subrouter()
	admin.Use(verifier.RequireUser, auth.RequireAdmin)
	mount(admin, []route{
		{"admin.orders.list", http.MethodGet, "", h.AdminListOrders},
		{"admin.orders.fulfillment", http.MethodPut, "/{id}/fulfillment", h.AdminUpdateFulfillment},
		{"admin.orders.cancel", http.MethodPut, "/{id}/cancel", h.AdminCancelOrder},
		{"admin.orders.refund", http.MethodPut, "/{id}/refund", h.AdminRefundOrder},
		{"admin.orders.delete", http.MethodDelete, "/{id}", h.AdminDeleteOrder},
	})

	return r
}

func mount(r *mux.Router, routes []route) {
	for _, rt := range routes {
		r.HandleFunc(rt.path, rt.handler).Methods(rt.method).Name(rt.name)
	}
}

func jsonStatus(status int, message string) http.Handler {
	body := []byte(fmt.Sprintf("{%q:%q}\n", "error", message))
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	})
}
