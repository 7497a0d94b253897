package pgwire

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"go.uber.org/zap"

	"pgkv/internal/config"
	"pgkv/internal/engine"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
)

// Server accepts TCP connections and serves the PostgreSQL wire protocol
// on each one, spec §5's "request-per-connection task" concurrency model:
// one goroutine per connection, no shared mutable state beyond the KV
// client pool and the resolved config (spec §9).
type Server struct {
	cfg      config.Config
	kv       kvstore.KV
	log      *zap.Logger
	listener net.Listener
}

// New builds a Server bound to kv, the already-opened KV backend (spec
// §6's PD_ENDPOINTS/sqlkv DSN is resolved by the caller before
// constructing this). The catalog/auth bootstrap for the default keyspace
// runs lazily on a connection's first handshake, not here.
func New(cfg config.Config, kv kvstore.KV, log *zap.Logger) *Server {
	return &Server{cfg: cfg, kv: kv, log: log}
}

// ListenAndServe binds cfg.Port (enabling TLS when both cfg.TLSCert and
// cfg.TLSKey are set) and serves connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("pgwire: listen %s: %w", addr, err)
	}
	if s.cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			ln.Close()
			return fmt.Errorf("pgwire: load TLS keypair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	s.listener = ln
	s.log.Info("listening", zap.String("addr", addr), zap.Bool("tls", s.cfg.TLSEnabled()))

	ns := keycodec.Namespace{Name: s.cfg.Keyspace}
	eng := engine.New(s.kv, ns)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("pgwire: accept: %w", err)
			}
		}
		go Serve(ctx, nc, eng, s.cfg, s.log)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
