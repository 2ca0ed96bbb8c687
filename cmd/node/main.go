// Package main provides the overlay router executable: it loads
// configuration and the local router identity, binds the UDP link
// listener, and runs the dispatch core's logic loop alongside the
// metrics/health HTTP server.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/go-llarp/pkg/config"
	"github.com/opd-ai/go-llarp/pkg/crypto"
	"github.com/opd-ai/go-llarp/pkg/dispatch"
	"github.com/opd-ai/go-llarp/pkg/httpmetrics"
	"github.com/opd-ai/go-llarp/pkg/logger"
	"github.com/opd-ai/go-llarp/pkg/metrics"
	"github.com/opd-ai/go-llarp/pkg/path"
	"github.com/opd-ai/go-llarp/pkg/rc"
	"github.com/opd-ai/go-llarp/pkg/trace"
)

var (
	version   = "0.1.0-dev"
	buildTime = "unknown"
)

// tickInterval is how often the logic loop fires timer-based work:
// retransmits, keepalives, session timeouts, transit sweeps. It must be
// well under the shortest protocol timer (the 200 ms ACKS interval).
const tickInterval = 100 * time.Millisecond

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	listenAddr := flag.String("listen", "", "UDP address for the link layer (default from config)")
	dataDir := flag.String("data-dir", "", "Data directory for router keys and RC")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	metricsPort := flag.Int("metrics-port", 0, "HTTP metrics/health port (0 = disabled)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-llarp version %s (built %s)\n", version, buildTime)
		fmt.Println("Low-latency onion-routed overlay router")
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		if err := config.LoadFromFile(*configFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDirectory = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsPort != 0 {
		cfg.MetricsPort = *metricsPort
		cfg.EnableMetrics = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(level, os.Stdout)

	log.Info("Starting go-llarp router",
		"version", version,
		"build_time", buildTime,
		"listen", cfg.ListenAddr)

	provider := crypto.New()

	ident, err := loadOrCreateIdentity(provider, cfg)
	if err != nil {
		log.Error("Failed to load router identity", "error", err)
		os.Exit(1)
	}
	routerID, err := ident.contact.RouterID()
	if err != nil {
		log.Error("Failed to derive router id", "error", err)
		os.Exit(1)
	}
	log.Info("Router identity loaded", "router_id", routerID.String())

	store := rc.NewStore(provider)

	core := dispatch.NewCore(log, provider, ident.contact, ident.encSecret,
		path.HopIdentity{
			EncryptionSecret: ident.encSecret,
			KEMSecret:        ident.kemSecret,
			SigningSecret:    ident.signSecret,
		},
		store)

	// Path builds are traced; at debug level spans go to stdout, otherwise
	// they are dropped after timing.
	var exporter trace.Exporter = trace.NewNoopExporter()
	if cfg.LogLevel == "debug" {
		exporter = trace.NewStdoutExporter(false)
	}
	core.SetTracer(trace.NewTracer("go-llarp", exporter, trace.AlwaysSample()))

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		log.Error("Failed to resolve listen address", "error", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Error("Failed to bind UDP listener", "error", err)
		os.Exit(1)
	}
	log.Info("Link layer listening", "address", conn.LocalAddr().String())

	m := metrics.New()

	send := func(outs []dispatch.Outbound) {
		for _, out := range outs {
			dst, err := net.ResolveUDPAddr("udp", out.Addr)
			if err != nil {
				log.Warn("Dropping frame for unresolvable address", "address", out.Addr, "error", err)
				continue
			}
			if _, err := conn.WriteToUDP(out.Data, dst); err != nil {
				log.Warn("UDP send failed", "address", out.Addr, "error", err)
				continue
			}
			m.FragmentsSent.Inc()
		}
	}
	core.SetOutboundHandler(send)

	var metricsServer *httpmetrics.Server
	if cfg.EnableMetrics && cfg.MetricsPort > 0 {
		monitor := newHealthMonitor(m, store)
		metricsServer = httpmetrics.NewServer(fmt.Sprintf("127.0.0.1:%d", cfg.MetricsPort), m, monitor, log)
		if err := metricsServer.Start(); err != nil {
			log.Error("Failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	stop := make(chan struct{})

	// Net I/O task: blocking reads feed the dispatch core, which returns
	// the frames to send in response.
	go func() {
		buf := make([]byte, 65535)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-stop:
					return
				default:
				}
				log.Warn("UDP read failed", "error", err)
				continue
			}
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			outs, err := core.InboundPacket(from.String(), pkt, time.Now())
			if err != nil {
				log.Debug("Inbound packet dropped", "from", from.String(), "error", err)
			}
			send(outs)
		}
	}()

	// Timer task: retransmits, keepalives, timeouts, sweeps.
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				send(core.Tick(now))
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Shutting down", "signal", sig.String())

	close(stop)
	conn.Close()
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			log.Warn("Metrics server shutdown error", "error", err)
		}
	}
	if err := ident.save(cfg); err != nil {
		log.Warn("Failed to persist router identity", "error", err)
	}
	log.Info("Shutdown complete")
}
