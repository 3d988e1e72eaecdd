//go:build darwin || linux

// Command driftlink is the driftlink line-echo client.
//
// It connects to a driftlinkd with the key printed on the server's
// connect line, relays stdin lines to the server, and prints each reply
// with the current RTT estimate.
//
// Usage:
//
//	driftlink <key> <ip> <port>
package main

import (
	"bufio"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vibing/driftlink/transport"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintf(os.Stderr, "Usage: driftlink <key> <ip> <port>\n")
		os.Exit(1)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(os.Args[1], os.Args[2], os.Args[3], logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(key, ip, port string, logger *zap.Logger) error {
	client, err := transport.Client(key, ip, port, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		client.Send(scanner.Bytes())
		if err := client.SendError(); err != nil {
			logger.Warn("send failed", zap.Error(err))
		}

		reply, err := client.Recv()
		if err != nil {
			logger.Warn("receive failed", zap.Error(err))
			continue
		}
		client.SetLastRoundtripSuccess(transport.NowMS())
		fmt.Printf("%s\t(srtt %.1f ms, rto %d ms)\n", reply, client.GetSRTT(), client.Timeout())
	}
	return scanner.Err()
}
