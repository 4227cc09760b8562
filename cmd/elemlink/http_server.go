package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/uasalt/elemlink/observability"
	"github.com/uasalt/elemlink/observability/prom"
)

const (
	httpReadHeaderTimeout = 5 * time.Second
	httpIdleTimeout       = 60 * time.Second
	httpShutdownTimeout   = 2 * time.Second
)

type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// startMetrics serves /metrics on addr and points obs at a fresh Prometheus registry.
func startMetrics(addr string, obs *observability.AtomicSessionObserver, log zerolog.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	reg := prom.NewRegistry()
	obs.Set(prom.NewSessionObserver(reg))

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler(reg))
	m := &metricsServer{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: httpReadHeaderTimeout,
			IdleTimeout:       httpIdleTimeout,
		},
		ln: ln,
	}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("url", m.URL()).Msg("serving metrics")
	return m, nil
}

func (m *metricsServer) URL() string {
	return "http://" + m.ln.Addr().String() + "/metrics"
}

func (m *metricsServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	_ = m.srv.Shutdown(ctx)
}
