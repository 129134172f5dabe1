package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	drbd "github.com/drbdgo/drbd"
	"github.com/drbdgo/drbd/backend"
	"github.com/drbdgo/drbd/internal/logging"
)

func main() {
	var (
		sizeStr     = flag.String("size", "64M", "Size of the replicated volume (e.g., 64M, 1G)")
		listenAddr  = flag.String("listen", "", "Address to accept the peer's data/meta connections on")
		peerAddr    = flag.String("peer", "", "Address of the peer to dial (mutually exclusive with -listen)")
		primary     = flag.Bool("primary", false, "Start as the primary (resync-deciding) node")
		protocolStr = flag.String("protocol", "C", "Replication protocol: A (async), B (semi-sync) or C (sync)")
		syncRate    = flag.Uint("sync-rate", uint(drbd.DefaultSyncRate), "Resync throttle in KiB/s")
		checksum    = flag.Bool("checksum", false, "Use checksum-based resync instead of bulk copy")
		invalidate  = flag.Bool("invalidate", false, "Mark the local volume fully out of sync on startup")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}
	protocol, err := parseProtocol(*protocolStr)
	if err != nil {
		log.Fatalf("invalid protocol %q: %v", *protocolStr, err)
	}
	if (*listenAddr == "") == (*peerAddr == "") {
		log.Fatalf("exactly one of -listen or -peer is required")
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	memBackend := backend.NewMemory(size + drbd.MetadataOverhead(0))
	defer memBackend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := drbd.DefaultParams(memBackend)
	params.Protocol = protocol
	params.SyncRate = uint32(*syncRate)
	params.UseChecksum = *checksum

	node, err := drbd.NewNode(ctx, params, &drbd.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create node", "error", err)
		os.Exit(1)
	}
	defer node.Close()

	logger.Info("node created", "size", formatSize(size), "protocol", *protocolStr, "primary", *primary)

	var dataConn, metaConn net.Conn
	if *listenAddr != "" {
		logger.Info("waiting for peer", "listen", *listenAddr)
		dataConn, metaConn, err = drbd.Listen(ctx, *listenAddr)
	} else {
		logger.Info("dialing peer", "peer", *peerAddr)
		dataConn, metaConn, err = drbd.Dial(ctx, *peerAddr)
	}
	if err != nil {
		logger.Error("failed to establish connection", "error", err)
		os.Exit(1)
	}

	if err := node.Connect(dataConn, metaConn, *primary); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	logger.Info("connected", "local_state", node.State().String())

	if *invalidate {
		node.Invalidate()
		logger.Info("volume marked out of sync, resync starting")
	}

	fmt.Printf("drbdgo-mem: %s volume, protocol %s, primary=%v\n", formatSize(size), *protocolStr, *primary)
	fmt.Printf("Press Ctrl+C to stop...\n")

	statusTick := time.NewTicker(5 * time.Second)
	defer statusTick.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			if err := node.Disconnect(); err != nil {
				logger.Error("error disconnecting", "error", err)
			}
			return
		case <-statusTick.C:
			info := node.Info()
			logger.Info("status",
				"state", info.State,
				"primary", info.Primary,
				"pending", info.PendingCnt,
				"unacked", info.UnackedCnt,
				"resync_left", info.ResyncLeft,
				"resync_total", info.ResyncTotal)
		}
	}
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

func parseProtocol(s string) (drbd.Protocol, error) {
	switch strings.ToUpper(s) {
	case "A":
		return drbd.ProtocolA, nil
	case "B":
		return drbd.ProtocolB, nil
	case "C":
		return drbd.ProtocolC, nil
	default:
		return 0, fmt.Errorf("must be one of A, B, C")
	}
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
