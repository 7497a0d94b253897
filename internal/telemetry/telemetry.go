// Package telemetry wraps the server's structured logger. Grounded on the
// zap usage pattern in the pack's postgres connection helper (package-level
// *zap.Logger, zap.String/zap.Int field constructors at call sites) — this
// is the teacher's one ecosystem logging dependency, pulled in indirectly
// through testcontainers and promoted here to a first-class use.
package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style zap logger. debug widens the level to
// DebugLevel and switches to a human-readable console encoder, matching the
// two modes a server config typically exposes (spec §6 env vars / config).
func New(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests.
func Nop() *zap.Logger { return zap.NewNop() }

// Session returns a child logger tagged with connection identity, the way
// every per-connection log line in the server is meant to be traceable back
// to a session without callers repeating the fields.
func Session(base *zap.Logger, connID int64, user, keyspace string) *zap.Logger {
	return base.With(
		zap.Int64("conn_id", connID),
		zap.String("user", user),
		zap.String("keyspace", keyspace),
	)
}

// FatalOnStartupErr logs err at Fatal (which zap itself turns into os.Exit)
// when the server cannot bind or open its KV backend (spec §6 exit codes).
func FatalOnStartupErr(log *zap.Logger, stage string, err error) {
	if err == nil {
		return
	}
	log.Fatal("startup failed", zap.String("stage", stage), zap.Error(err))
	os.Exit(1) // unreachable after zap.Fatal, kept for defensiveness in custom cores
}
