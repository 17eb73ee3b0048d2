// Package server wires the routing core, the live connection endpoint and
// the HTTP API into one handler tree.
package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nexus-im/courier/internal/api"
	"github.com/nexus-im/courier/internal/auth"
	"github.com/nexus-im/courier/internal/logger"
	"github.com/nexus-im/courier/internal/membership"
	"github.com/nexus-im/courier/internal/metrics"
	"github.com/nexus-im/courier/internal/receipts"
	"github.com/nexus-im/courier/internal/registry"
	"github.com/nexus-im/courier/internal/router"
	"github.com/nexus-im/courier/internal/ws"
	"github.com/nexus-im/courier/store/channel"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"
)

// Deps are the collaborators the server is built from.
type Deps struct {
	Messages message.Store
	Channels channel.Store
	Users    user.Store
	Identity auth.Resolver

	// Gatherer and Registerer default to a fresh registry when nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Log zerolog.Logger
}

type Options struct {
	ChannelEcho    bool
	SendRate       float64
	SendBurst      int
	AllowedOrigins []string
}

type Server struct {
	Conns    *registry.Registry
	Router   *router.Router
	Receipts *receipts.Tracker
	WS       *ws.Server

	handler http.Handler
}

// New assembles the handler tree. base scopes every routed intent; cancel it
// only after connections have been closed.
func New(base context.Context, deps Deps, opts Options) *Server {
	if deps.Registerer == nil || deps.Gatherer == nil {
		reg := prometheus.NewRegistry()
		deps.Registerer, deps.Gatherer = reg, reg
	}
	m := metrics.New(deps.Registerer)

	conns := registry.New()
	rt := router.New(
		deps.Messages,
		deps.Channels,
		deps.Users,
		membership.NewResolver(deps.Channels),
		conns,
		router.WithChannelEcho(opts.ChannelEcho),
		router.WithLogger(logger.Component(deps.Log, "router")),
		router.WithMetrics(m),
	)
	tracker := receipts.New(
		deps.Messages,
		conns,
		receipts.WithLogger(logger.Component(deps.Log, "receipts")),
		receipts.WithMetrics(m),
	)

	wsOpts := []ws.Option{
		ws.WithAllowedOrigins(opts.AllowedOrigins),
		ws.WithLogger(logger.Component(deps.Log, "ws")),
		ws.WithMetrics(m),
	}
	if opts.SendRate > 0 && opts.SendBurst > 0 {
		wsOpts = append(wsOpts, ws.WithSendLimit(opts.SendRate, opts.SendBurst))
	}
	live := ws.NewServer(base, deps.Identity, conns, rt, tracker, wsOpts...)

	apiHandler := api.NewHandler(
		deps.Messages,
		deps.Channels,
		deps.Users,
		tracker,
		deps.Identity,
		logger.Component(deps.Log, "api"),
	)

	mux := http.NewServeMux()
	mux.Handle("/ws", live)
	mux.Handle("/api/", apiHandler.Routes())
	mux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			deps.Log.Warn().Err(err).Msg("health check write error")
		}
	})

	return &Server{
		Conns:    conns,
		Router:   rt,
		Receipts: tracker,
		WS:       live,
		handler:  mux,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects every live connection.
func (s *Server) Close() {
	s.WS.Close()
}
