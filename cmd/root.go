// Package cmd wires configuration, stores, engines, and the network
// server into the racerd binary.
package cmd

import (
	"flag"
	"fmt"
	"os"
)

// Version is set at build time via ldflags.
var Version = "0.3.0"

func printUsage() {
	fmt.Fprintf(os.Stderr, `racerd v%s — authoritative race server for text-command racing

Usage:
  racerd [OPTIONS] [CONFIG]

Modes:
  (default)         Run the race server
  -replay FILE      Print a recorded race tick by tick, then exit
  -version          Print version and exit

Options:
  -config PATH      YAML configuration file (default: built-in defaults)
  -addr ADDR        Listen address override (e.g. :8080)
  -log-level LEVEL  Log level override: trace, debug, info, warn, error
  -pretty           Human-readable console logs instead of JSON
  -speed N          Replay pacing: 1 = real time, 2 = double, 0 = no delay

Positional:
  CONFIG            First positional arg sets the config file path

Environment:
  RACER_ADDR            Listen address
  RACER_POSTGRES_URL    Durable store DSN (empty = in-memory store)
  RACER_REDIS_URL       Cache URL (empty = in-process snapshots)
  RACER_LOG_LEVEL       Log level

Examples:
  racerd                              Defaults, in-memory stores, :8080
  racerd racer.yaml                   Run with a config file
  racerd -addr :9090 -log-level debug
  RACER_POSTGRES_URL=postgres://... racerd racer.yaml
  racerd -replay data/recordings/race_17.jsonl
  racerd -replay data/recordings/race_17.jsonl -speed 1
  racerd -version
`, Version)
}

// Run parses flags and starts the selected mode.
func Run() error {
	var (
		configPath  string
		addr        string
		logLevel    string
		pretty      bool
		replayPath  string
		speed       float64
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "YAML configuration file")
	flag.StringVar(&addr, "addr", "", "Listen address override")
	flag.StringVar(&logLevel, "log-level", "", "Log level override (trace,debug,info,warn,error)")
	flag.BoolVar(&pretty, "pretty", false, "Human-readable console logs")
	flag.StringVar(&replayPath, "replay", "", "Replay a recorded race and exit")
	flag.Float64Var(&speed, "speed", 0, "Replay pacing (1=real time, 0=no delay)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = printUsage
	flag.Parse()

	if showVersion {
		fmt.Printf("racerd v%s\n", Version)
		return nil
	}

	// Support positional config path: `racerd racer.yaml`
	if args := flag.Args(); len(args) > 0 && configPath == "" {
		configPath = args[0]
	}

	if replayPath != "" {
		return runReplay(replayPath, speed)
	}

	return runServe(serveOptions{
		ConfigPath: configPath,
		Addr:       addr,
		LogLevel:   logLevel,
		Pretty:     pretty,
	})
}
