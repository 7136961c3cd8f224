// Package cli provides the command line interface for the worker
// controller, built the way the teacher's own internal/cli builds its
// cobra command tree: a root command with a persistent --config flag and
// one subcommand per operation.
//
// Command structure:
//
//	workerpool
//	├── run                 # start a pool and keep it running until interrupted
//	│   └── --config, -c
//	├── call                # submit one ad-hoc call for manual testing
//	│   └── --entry, --arg, --worker, --mode
//	└── status              # print a snapshot of a pool's occupancy
//
// Configuration is YAML (default: configs/default.yaml): pool size, mode,
// and whether to expose a Prometheus /metrics endpoint.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/workerpool/internal/metrics"
	"github.com/ChuLiYu/workerpool/internal/pool"
	"github.com/ChuLiYu/workerpool/internal/registry"
	"github.com/ChuLiYu/workerpool/pkg/types"
)

var log = slog.Default()

// echoEntryTag is the demo entry every CLI command can dispatch against
// without the caller writing any Go code of their own: it echoes its
// string argument back, letting `workerpool call` round-trip end to end.
const echoEntryTag = "cli.echo"

func init() {
	registry.Register(echoEntryTag, func(arg []byte) ([]byte, error) {
		return arg, nil
	})
}

// Config mirrors the teacher's Config struct shape: one YAML-tagged field
// group per concern.
type Config struct {
	Pool struct {
		NumWorkers int    `yaml:"num_workers"`
		Mode       string `yaml:"mode"` // "longlived" or "clone-per-call"
	} `yaml:"pool"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

func (c Config) mode() types.Mode {
	if c.Pool.Mode == "clone-per-call" {
		return types.ClonePerCall
	}
	return types.LongLived
}

var configFile string

// BuildCLI assembles the root command, matching the teacher's BuildCLI.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "workerpool",
		Short:   "workerpool: a fixed-size subprocess pool for parallel calls",
		Long:    "workerpool runs arbitrary registered functions across a fixed pool of OS subprocesses, exposing a future-like handle for each call.",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildCallCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a pool and keep it running until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPool()
		},
	}
	return cmd
}

func runPool() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	poolCfg := pool.Config{Mode: cfg.mode(), NumWorkers: cfg.Pool.NumWorkers}

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		poolCfg.Metrics = metrics.NewCollector(reg)
	}

	p, err := pool.Make(poolCfg)
	if err != nil {
		return fmt.Errorf("cli: start pool: %w", err)
	}
	defer p.ForceQuitAll()

	log.Info("pool started", "workers", cfg.Pool.NumWorkers, "mode", cfg.mode())

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port, reg); err != nil {
				log.Error("metrics server exited", "error", err)
			}
		}()
		log.Info("metrics server listening", "port", cfg.Metrics.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal, force-quitting pool")
	return nil
}

func buildCallCommand() *cobra.Command {
	var entry, arg string
	var workerID int
	var modeFlag string

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Submit one ad-hoc call to a freshly started pool and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneCall(entry, arg, workerID, modeFlag)
		},
	}

	cmd.Flags().StringVar(&entry, "entry", echoEntryTag, "registered entry tag to invoke")
	cmd.Flags().StringVar(&arg, "arg", "", "string argument passed to the entry")
	cmd.Flags().IntVar(&workerID, "worker", 0, "worker id to dispatch to")
	cmd.Flags().StringVar(&modeFlag, "mode", "longlived", "worker mode: longlived or clone-per-call")

	return cmd
}

func runOneCall(entry, arg string, workerID int, modeFlag string) error {
	mode := types.LongLived
	if modeFlag == "clone-per-call" {
		mode = types.ClonePerCall
	}

	p, err := pool.Make(pool.Config{Mode: mode, NumWorkers: workerID + 1})
	if err != nil {
		return fmt.Errorf("cli: start pool: %w", err)
	}
	defer p.ForceQuitAll()

	h, err := pool.Call[string, string](p, types.CallID(1), types.WorkerID(workerID), entry, arg)
	if err != nil {
		return fmt.Errorf("cli: call: %w", err)
	}

	result, err := h.GetResult()
	if err != nil {
		return fmt.Errorf("cli: call failed: %w", err)
	}

	fmt.Println(result)
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the occupancy a pool built from the config file would start with",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	p, err := pool.Make(pool.Config{Mode: cfg.mode(), NumWorkers: cfg.Pool.NumWorkers})
	if err != nil {
		return fmt.Errorf("cli: start pool: %w", err)
	}
	defer p.ForceQuitAll()

	records := p.Records()
	busy, idle, forceQuit := 0, 0, 0
	for _, rec := range records {
		switch {
		case rec.IsForceQuit():
			forceQuit++
		case rec.IsBusy():
			busy++
		default:
			idle++
		}
	}

	fmt.Println("workerpool status")
	fmt.Printf("  config file: %s\n", configFile)
	fmt.Printf("  mode:        %s\n", cfg.mode())
	fmt.Printf("  workers:     %d (busy=%d idle=%d force_quit=%d)\n", len(records), busy, idle, forceQuit)
	if cfg.Metrics.Enabled {
		fmt.Printf("  metrics:     enabled on :%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  metrics:     disabled")
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cli: read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cli: parse config yaml: %w", err)
	}
	return &cfg, nil
}
