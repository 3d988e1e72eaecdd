//go:build darwin || linux

// Command driftlinkd is the driftlink echo server.
//
// It binds a UDP port, prints the connect line with the session key, and
// echoes every received payload back to the (possibly roaming) client.
//
// Usage:
//
//	driftlinkd                          # defaults
//	driftlinkd -c /path/to/config.yaml
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vibing/driftlink/config"
	"github.com/vibing/driftlink/crypt"
	"github.com/vibing/driftlink/transport"
)

var configPath = flag.String("c", "", "Config file path")

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(l)
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	server, err := transport.Server(cfg.ListenIP, cfg.PortRange, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	// The wrapper script greps for this line to hand the key to the
	// client over the SSH channel.
	fmt.Printf("DRIFTLINK CONNECT %s %s\n", server.Port(), server.Key())
	logger.Info("listening", zap.String("port", server.Port()))

	for {
		payload, err := server.Recv()
		if err != nil {
			// Bad datagrams are the network's problem, not ours.
			if errors.Is(err, crypt.ErrBadAuth) ||
				errors.Is(err, crypt.ErrTooShort) ||
				errors.Is(err, transport.ErrDirectionViolation) ||
				errors.Is(err, transport.ErrMalformed) ||
				errors.Is(err, transport.ErrOversize) {
				logger.Debug("dropped datagram", zap.Error(err))
				continue
			}
			logger.Warn("receive failed", zap.Error(err))
			continue
		}

		if len(payload) == 0 {
			continue
		}
		server.Send(payload)
		if err := server.SendError(); err != nil {
			logger.Warn("send failed", zap.Error(err))
		}
	}
}
