package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/peermesh/rendezvous/internal/config"
	"github.com/peermesh/rendezvous/internal/events"
	"github.com/peermesh/rendezvous/internal/httpserver"
	"github.com/peermesh/rendezvous/internal/hub"
	"github.com/peermesh/rendezvous/internal/metrics"
	"github.com/peermesh/rendezvous/internal/protocol"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting rendezvousd",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"instance", cfg.InstanceName,
		"tls", cfg.TLSEnabled(),
		"supported_versions", cfg.SupportedVersions,
		"mq_url_set", cfg.MQURL != "",
	)

	m := metrics.New()

	var sink events.Sink = events.Nop{}
	var publisher *events.Publisher
	if cfg.MQURL != "" {
		publisher, err = events.Dial(cfg.MQURL, cfg.MQExchange, logger, m)
		if err != nil {
			logger.Error("failed to connect to message queue", "err", err)
			os.Exit(2)
		}
		defer publisher.Close()
		sink = publisher
	}

	h := hub.New(logger, m, sink)
	gate := protocol.NewVersionGate(cfg.SupportedVersions)

	srv := httpserver.New(cfg, logger, h)
	srv.Mux().Handle("GET /ws", hub.NewServer(h, logger, hub.ServerConfig{
		Gate:              gate,
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MaxMessagesPerSecond,
		IdleTimeout:       cfg.WSIdleTimeout,
		PingInterval:      cfg.WSPingInterval,
	}))

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ln, err := listen(cfg)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func listen(cfg config.Config) (net.Listener, error) {
	if !cfg.TLSEnabled() {
		return net.Listen("tcp", cfg.ListenAddr)
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return tls.Listen("tcp", cfg.ListenAddr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
}
