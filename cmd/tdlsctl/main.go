package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tdlsctl/internal/config"
	"tdlsctl/internal/engine"
	"tdlsctl/internal/metrics"
	"tdlsctl/internal/model"
	"tdlsctl/internal/simdriver"
)

const usage = `tdlsctl - automatic direct-link (TDLS) management engine

Usage:
  tdlsctl run --config <path> [--duration 10s] [--peers <mac,...>]
  tdlsctl stats --config <path> [--window 5m]
  tdlsctl config init --config <path>

run drives the engine against a simulated driver; wire a real driver by
embedding internal/engine in your supplicant.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "run":
		handleRun(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func loadConfig(path string) config.Config {
	if path == "" {
		fatal("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		fatal("invalid config: %v", err)
	}
	return cfg
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	duration := fs.Duration("duration", 10*time.Second, "how long to run the simulation")
	peerList := fs.String("peers", "02:00:00:00:00:01,02:00:00:00:00:02", "comma-separated peer MACs")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	if !cfg.IsEnabled() {
		fatal("auto-mode is disabled in the config")
	}
	log := newLogger(cfg)

	peers, err := parsePeers(*peerList)
	if err != nil {
		fatal("parse peers: %v", err)
	}
	if len(peers) == 0 {
		fatal("at least one peer is required")
	}

	sim := simdriver.New(log)
	eng, err := engine.New(cfg.EngineConfig(), sim, log)
	if err != nil {
		fatal("engine init: %v", err)
	}
	defer eng.Close()
	sim.Bind(eng)

	var sampleMu sync.Mutex
	var samples []model.Sample
	eng.SetRecorder(func(s model.Sample) {
		sampleMu.Lock()
		samples = append(samples, s)
		sampleMu.Unlock()
	})

	// First peer is busy with a strong signal and should end up connected;
	// the others idle along as candidates.
	for i, addr := range peers {
		profile := simdriver.Profile{RSSI: -80, Responds: true}
		if i == 0 {
			profile = simdriver.Profile{
				RSSI:           -45,
				RateBps:        4 * cfg.Auto.DataConnectThresholdBps,
				Responds:       true,
				AcceptsConnect: true,
			}
		}
		sim.AddPeer(addr, profile)
		if err := eng.Start(addr); err != nil {
			fatal("start peer %s: %v", addr, err)
		}
	}

	// Shuttle discovery responses the way a supplicant event loop would.
	// Traffic toward the busy peer dies at the 60% mark so the data
	// teardown cycle has something to do.
	start := time.Now()
	cutRate := false
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Since(start) < *duration {
		<-ticker.C
		sim.DeliverResponses()
		if !cutRate && time.Since(start) > *duration*6/10 {
			log.Info().Stringer("peer", peers[0]).Msg("cutting simulated traffic")
			sim.SetRate(peers[0], 0)
			cutRate = true
		}
	}

	for _, p := range eng.Peers() {
		fmt.Printf("peer %s connected=%v incoming=%v rssi=%d rate=%d bps attempts=%d\n",
			p.Addr, p.Connected, p.Incoming, p.RSSI, p.DataRateBps, p.FastAttempts)
	}

	sampleMu.Lock()
	collected := samples
	sampleMu.Unlock()
	if cfg.MetricsPath != "" {
		if err := metrics.AppendCSV(cfg.MetricsPath, collected); err != nil {
			fatal("append metrics: %v", err)
		}
		log.Info().Str("path", cfg.MetricsPath).Int("samples", len(collected)).
			Msg("metrics written")
	}
	printSummary(metrics.Summarize(collected, start))
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	window := fs.Duration("window", 5*time.Minute, "summary window")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	if cfg.MetricsPath == "" {
		fatal("metrics_path not set in config")
	}
	items, err := metrics.ReadCSV(cfg.MetricsPath)
	if err != nil {
		fatal("read metrics: %v", err)
	}
	printSummary(metrics.Summarize(items, time.Now().Add(-*window)))
}

func handleConfig(args []string) {
	if len(args) == 0 || args[0] != "init" {
		fatal("config subcommand required (init)")
	}
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args[1:])

	if *configPath == "" {
		fatal("--config is required")
	}
	if err := config.Save(*configPath, config.Config{}); err != nil {
		fatal("write config: %v", err)
	}
	fmt.Printf("wrote default config to %s\n", *configPath)
}

func parsePeers(list string) ([]model.MAC, error) {
	var peers []model.MAC
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		addr, err := model.ParseMAC(s)
		if err != nil {
			return nil, err
		}
		peers = append(peers, addr)
	}
	return peers, nil
}

func printSummary(s metrics.Summary) {
	if s.Count == 0 {
		fmt.Println("no samples")
		return
	}
	fmt.Printf("samples: %d (%s .. %s)\n", s.Count,
		s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))
	if s.RateSamples > 0 {
		fmt.Printf("rate: n=%d avg=%.0f min=%.0f max=%.0f p95=%.0f bps\n",
			s.RateSamples, s.AvgRateBps, s.MinRateBps, s.MaxRateBps, s.P95RateBps)
	}
	if s.RSSISamples > 0 {
		fmt.Printf("rssi: n=%d avg=%.1f min=%d max=%d dBm\n",
			s.RSSISamples, s.AvgRSSI, s.MinRSSI, s.MaxRSSI)
	}
}
