// Package main is the pgkv server binary. It is a single command with no
// subcommands (spec §6's CLI surface): start, serve connections, exit 0
// on clean shutdown, non-zero on fatal startup failure.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pgkv/internal/config"
	"pgkv/internal/kvstore"
	"pgkv/internal/kvstore/memkv"
	"pgkv/internal/kvstore/sqlkv"
	"pgkv/internal/pgwire"
	"pgkv/internal/telemetry"
)

type serverFlags struct {
	configFile string
	debug      bool
	memBackend bool
}

func main() {
	flags := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "pgkvd",
		Short: "PostgreSQL-wire-compatible SQL front end over a distributed KV store",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Path to a TOML config file (optional; environment variables always win)")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable verbose/development logging")
	cmd.Flags().BoolVar(&flags.memBackend, "mem", false, "Use an in-process, non-durable KV backend instead of PD_ENDPOINTS (development only)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags *serverFlags) error {
	log, err := telemetry.New(flags.debug)
	if err != nil {
		return fmt.Errorf("pgkvd: build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(flags.configFile)
	if err != nil {
		telemetry.FatalOnStartupErr(log, "config", err)
		return err
	}

	kv, closeKV, err := openBackend(cfg, flags.memBackend)
	if err != nil {
		telemetry.FatalOnStartupErr(log, "kv-backend", err)
		return err
	}
	defer closeKV()

	srv := pgwire.New(cfg, kv, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		_ = srv.Close()
		return nil
	case err := <-errCh:
		if err != nil {
			telemetry.FatalOnStartupErr(log, "listen", err)
		}
		return err
	}
}

// openBackend resolves the kvstore.KV the server runs against: an
// in-memory store for local development (--mem), or a SQL-backed store
// reachable through the first PD_ENDPOINTS entry (spec §6 describes
// PD_ENDPOINTS as placement-service addresses; sqlkv treats it as a
// database/sql DSN, the concrete backend this pack's MySQL driver gives
// us to stand in for the distributed KV cluster).
func openBackend(cfg config.Config, memBackend bool) (kvstore.KV, func(), error) {
	if memBackend {
		kv := memkv.New()
		return kv, func() {}, nil
	}
	if len(cfg.PDEndpoints) == 0 {
		return nil, nil, fmt.Errorf("pgkvd: PD_ENDPOINTS is required unless --mem is set")
	}
	db, err := sql.Open("mysql", cfg.PDEndpoints[0])
	if err != nil {
		return nil, nil, fmt.Errorf("pgkvd: open KV backend: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("pgkvd: ping KV backend: %w", err)
	}
	store, err := sqlkv.Open(context.Background(), db, "pgkv_store")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("pgkvd: init KV backend: %w", err)
	}
	return store, func() { store.Close() }, nil
}
