// Command loglens reads log lines from stdin (or a file) and emits a JSONL
// novelty/alert record per line, maintaining a decayed frequency model
// across the run with optional snapshot warm-restart.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/piqnyx/loglens/internal/config"
	"github.com/piqnyx/loglens/internal/engine"
	"github.com/piqnyx/loglens/internal/quantile"
)

// appContext holds every long-lived dependency the run needs, built once
// in initApp and read by runApp/shutdownApp.
type appContext struct {
	Config config.Config
	Engine *engine.Engine

	StdoutLogger *log.Logger
	DebugLogger  *log.Logger
	closeLogs    func()

	SnapshotPath     string
	AutoSaveInterval time.Duration
	DumpNeighbors    bool
	snapshotChanged  bool
}

var appCtx appContext

func initApp(configPath, snapshotPath string, explain bool, neighborK int, quantiles []float64, autoSaveInterval time.Duration, debugLogPath string) error {
	appCtx = appContext{
		SnapshotPath: snapshotPath,
	}

	appCtx.StdoutLogger, appCtx.DebugLogger, appCtx.closeLogs = setupLogging(debugLogPath)

	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			appCtx.StdoutLogger.Printf("Error loading config file: %v", err)
			return err
		}
		appCtx.StdoutLogger.Printf("Config file %s loaded successfully", configPath)
	} else {
		cfg = config.Default()
		appCtx.StdoutLogger.Printf("No config file given, using defaults")
	}

	if err := cfg.Validate(); err != nil {
		appCtx.StdoutLogger.Printf("Invalid config: %v", err)
		return err
	}
	appCtx.Config = cfg

	if len(quantiles) == 0 {
		quantiles = []float64{0.99}
	}

	eng, err := engine.New(cfg, engine.Options{
		QuantileKind: quantile.KindP2,
		Quantiles:    quantiles,
		Explain:      explain,
		NeighborK:    neighborK,
	})
	if err != nil {
		appCtx.StdoutLogger.Printf("Error constructing engine: %v", err)
		return err
	}
	appCtx.Engine = eng

	appCtx.AutoSaveInterval = autoSaveInterval
	if snapshotPath != "" {
		if err := loadSnapshotIfPresent(snapshotPath); err != nil {
			appCtx.StdoutLogger.Printf("Error loading snapshot: %v", err)
			return err
		}
	}

	appCtx.StdoutLogger.Printf("loglens initialized successfully")
	return nil
}

// runApp reads lines from in, scoring and observing each one, writing a
// JSONL record per line to out. The engine carries no internal lock, so
// autosave is folded into this same select loop rather than run from a
// separate ticker goroutine: the loop itself is the serialization point.
func runApp(in *bufio.Scanner, out *bufio.Writer) error {
	appCtx.StdoutLogger.Printf("loglens running")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
		scanErr <- in.Err()
	}()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if appCtx.SnapshotPath != "" && appCtx.AutoSaveInterval > 0 {
		ticker = time.NewTicker(appCtx.AutoSaveInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	enc := json.NewEncoder(out)

	interrupted := false
loop:
	for {
		select {
		case <-done:
			appCtx.StdoutLogger.Printf("Received interrupt, shutting down")
			interrupted = true
			break loop
		case <-tickC:
			if err := saveSnapshot(appCtx.SnapshotPath); err != nil {
				appCtx.StdoutLogger.Printf("Snapshot autosave failed: %v", err)
			} else {
				appCtx.DebugLogger.Printf("Snapshot autosaved")
			}
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			rec, err := appCtx.Engine.ScoreAndObserve(line)
			if err != nil {
				appCtx.DebugLogger.Printf("skipping line: %v", err)
				continue
			}
			appCtx.snapshotChanged = true

			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("writing record: %w", err)
			}
			if rec.IsAlert {
				appCtx.DebugLogger.Printf("ALERT novelty=%.3f line=%s", rec.Novelty, truncatePreview(rec.Line))
				if appCtx.DumpNeighbors {
					for _, n := range rec.Neighbors {
						appCtx.DebugLogger.Printf("  neighbor sim=%.2f line=%s", n.Similarity, truncatePreview(n.Line))
					}
				}
			}
		}
	}
	out.Flush()

	// On interrupt the reader goroutine may still be blocked sending a
	// line nobody will receive; don't wait on it.
	if !interrupted {
		if err := <-scanErr; err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
	}
	return nil
}

func shutdownApp() {
	if appCtx.SnapshotPath != "" {
		if err := saveSnapshot(appCtx.SnapshotPath); err != nil {
			appCtx.StdoutLogger.Printf("Error saving snapshot: %v", err)
		} else {
			appCtx.StdoutLogger.Printf("Snapshot saved successfully")
		}
	}
	appCtx.closeLogs()
	appCtx.StdoutLogger.Printf("loglens stopped")
}

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	snapshotPath := flag.String("snapshot", "", "Path to snapshot file for warm restart and periodic autosave")
	autoSaveSeconds := flag.Int("autosave-seconds", 30, "Snapshot autosave interval in seconds (0 disables)")
	explain := flag.Bool("explain", false, "Include per-token bit contributors in each record")
	neighborK := flag.Int("neighbors", 3, "Number of neighbor matches to attach to alert records")
	dumpNeighbors := flag.Bool("dump-neighbors", false, "Echo each alert's neighbor lines to the debug log")
	quantileList := flag.String("quantiles", "0.99", "Comma-separated quantiles to track; the largest is the alert threshold")
	debugLog := flag.String("debug-log", "", "Optional path for a debug trace log (defaults to stderr)")
	inputPath := flag.String("input", "", "Path to a log file to read instead of stdin")
	flag.Parse()

	quantiles, err := parseQuantiles(*quantileList)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	err = initApp(*configPath, *snapshotPath, *explain, *neighborK, quantiles, time.Duration(*autoSaveSeconds)*time.Second, *debugLog)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	appCtx.DumpNeighbors = *dumpNeighbors

	in := os.Stdin
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			fmt.Printf("Error opening input file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	writer := bufio.NewWriter(os.Stdout)

	runErr := runApp(scanner, writer)

	shutdownApp()
	if runErr != nil {
		fmt.Println(runErr)
		os.Exit(1)
	}
}
