// Package main provides the entry point for TravelNet, the connection
// orchestrator of a travel router. It joins an upstream WiFi network
// with the client radio and optionally carries all traffic through a
// WireGuard tunnel.
//
// Usage:
//
//	travelnetd [flags] <subcommand> [args...]
//
// Environment:
//
//	Every root flag can be set with a TRAVELNET_ prefixed variable, e.g.
//	TRAVELNET_WIFI_INTERFACE=wlan1. The router needs nmcli, wg and
//	wg-quick installed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/yllada/travelnet/cli"
	"github.com/yllada/travelnet/common"
	"github.com/yllada/travelnet/config"
	"github.com/yllada/travelnet/orchestrator"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath    string
	dataDir       string
	wifiInterface string
	apInterface   string
	logLevel      string
	verbose       bool
	version       bool
}

func main() {
	var rf rootFlags
	rootFlagSet := flag.NewFlagSet(common.BinaryName, flag.ExitOnError)
	rootFlagSet.StringVar(&rf.configPath, "config", common.DefaultConfigPath, "path to the configuration file (env: TRAVELNET_CONFIG)")
	rootFlagSet.StringVar(&rf.dataDir, "data-dir", "", "override data_dir (env: TRAVELNET_DATA_DIR)")
	rootFlagSet.StringVar(&rf.wifiInterface, "wifi-interface", "", "override the client radio (env: TRAVELNET_WIFI_INTERFACE)")
	rootFlagSet.StringVar(&rf.apInterface, "ap-interface", "", "override the hotspot radio (env: TRAVELNET_AP_INTERFACE)")
	rootFlagSet.StringVar(&rf.logLevel, "log-level", "", "debug, info, warn or error (env: TRAVELNET_LOG_LEVEL)")
	rootFlagSet.BoolVar(&rf.verbose, "verbose", false, "enable debug logging")
	rootFlagSet.BoolVar(&rf.version, "version", false, "show version and exit")

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	run := func(fn func(ctx context.Context, c *cli.CLI) error) func(context.Context, []string) error {
		return func(ctx context.Context, _ []string) error {
			o, err := open(rf)
			if err != nil {
				return err
			}
			defer o.Close()
			// A one-shot process starts from the live state, not a blank one
			if _, err := o.Refresh(ctx); err != nil {
				common.LogWarn("Could not read live state: %v", err)
			}
			return fn(ctx, cli.New(o, os.Stdout))
		}
	}

	daemonFlagSet := flag.NewFlagSet("daemon", flag.ExitOnError)
	daemonAutoReconnect := daemonFlagSet.Bool("auto-reconnect", false, "reconnect to the last network and tunnel at start")
	daemonCmd := &ffcli.Command{
		Name:       "daemon",
		ShortUsage: common.BinaryName + " daemon [--auto-reconnect]",
		ShortHelp:  "Run the reconciler until interrupted",
		FlagSet:    daemonFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			return runDaemon(ctx, rf, *daemonAutoReconnect)
		},
	}

	scanCmd := &ffcli.Command{
		Name:      "scan",
		ShortHelp: "List nearby WiFi networks",
		Exec: run(func(ctx context.Context, c *cli.CLI) error {
			return c.Scan(ctx)
		}),
	}

	connectFlagSet := flag.NewFlagSet("connect", flag.ExitOnError)
	connectPassword := connectFlagSet.String("password", "", "network password (env: TRAVELNET_PASSWORD)")
	connectAsk := connectFlagSet.Bool("ask", false, "prompt for the password")
	connectCmd := &ffcli.Command{
		Name:       "connect",
		ShortUsage: common.BinaryName + " connect [--password P | --ask] <ssid>",
		ShortHelp:  "Join a WiFi network",
		FlagSet:    connectFlagSet,
		Options:    []ff.Option{ff.WithEnvVarPrefix(common.EnvPrefix)},
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("connect requires an ssid")
			}
			ssid := args[0]
			password := *connectPassword
			if *connectAsk {
				p, err := cli.PromptPassword(os.Stdin, os.Stderr, ssid)
				if err != nil {
					return err
				}
				password = p
			}
			return run(func(ctx context.Context, c *cli.CLI) error {
				return c.Connect(ctx, ssid, password)
			})(ctx, nil)
		},
	}

	disconnectCmd := &ffcli.Command{
		Name:      "disconnect",
		ShortHelp: "Leave the upstream WiFi network",
		Exec: run(func(ctx context.Context, c *cli.CLI) error {
			return c.Disconnect(ctx)
		}),
	}

	forgetCmd := &ffcli.Command{
		Name:       "forget",
		ShortUsage: common.BinaryName + " forget <ssid>",
		ShortHelp:  "Remove a stored WiFi password",
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("forget requires an ssid")
			}
			return run(func(_ context.Context, c *cli.CLI) error {
				return c.Forget(args[0])
			})(ctx, nil)
		},
	}

	statusCmd := &ffcli.Command{
		Name:      "status",
		ShortHelp: "Show the wireless and tunnel state",
		Exec: run(func(ctx context.Context, c *cli.CLI) error {
			return c.Status(ctx)
		}),
	}

	ackCmd := &ffcli.Command{
		Name:      "ack",
		ShortHelp: "Clear a failed WiFi connection attempt",
		Exec: run(func(ctx context.Context, c *cli.CLI) error {
			return c.Acknowledge(ctx)
		}),
	}

	tunnelsCmd := &ffcli.Command{
		Name:      "tunnels",
		ShortHelp: "List stored tunnels",
		Exec: run(func(_ context.Context, c *cli.CLI) error {
			return c.Tunnels()
		}),
	}

	tunnelAddFlagSet := flag.NewFlagSet("tunnel-add", flag.ExitOnError)
	tunnelAddReplace := tunnelAddFlagSet.Bool("replace", false, "overwrite an existing tunnel")
	tunnelAddCmd := &ffcli.Command{
		Name:       "tunnel-add",
		ShortUsage: common.BinaryName + " tunnel-add [--replace] <name> <file>",
		ShortHelp:  "Store a WireGuard configuration",
		FlagSet:    tunnelAddFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("tunnel-add requires a name and a file")
			}
			return run(func(_ context.Context, c *cli.CLI) error {
				return c.TunnelAdd(args[0], args[1], *tunnelAddReplace)
			})(ctx, nil)
		},
	}

	tunnelRmCmd := &ffcli.Command{
		Name:       "tunnel-rm",
		ShortUsage: common.BinaryName + " tunnel-rm <name>",
		ShortHelp:  "Delete a stored tunnel",
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("tunnel-rm requires a name")
			}
			return run(func(ctx context.Context, c *cli.CLI) error {
				return c.TunnelRemove(ctx, args[0])
			})(ctx, nil)
		},
	}

	upCmd := &ffcli.Command{
		Name:       "up",
		ShortUsage: common.BinaryName + " up <name>",
		ShortHelp:  "Bring a tunnel up",
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("up requires a tunnel name")
			}
			return run(func(ctx context.Context, c *cli.CLI) error {
				return c.Up(ctx, args[0])
			})(ctx, nil)
		},
	}

	downCmd := &ffcli.Command{
		Name:      "down",
		ShortHelp: "Take the tunnel down",
		Exec: run(func(ctx context.Context, c *cli.CLI) error {
			return c.Down(ctx)
		}),
	}

	historyFlagSet := flag.NewFlagSet("history", flag.ExitOnError)
	historyLimit := historyFlagSet.Int("n", common.DefaultHistoryLimit, "number of transitions to show")
	historyCmd := &ffcli.Command{
		Name:       "history",
		ShortUsage: common.BinaryName + " history [-n N]",
		ShortHelp:  "Show recent state transitions",
		FlagSet:    historyFlagSet,
		Exec: run(func(ctx context.Context, c *cli.CLI) error {
			return c.History(ctx, *historyLimit)
		}),
	}

	watchFlagSet := flag.NewFlagSet("watch", flag.ExitOnError)
	watchInterval := watchFlagSet.Duration("interval", 2*time.Second, "refresh interval")
	watchCmd := &ffcli.Command{
		Name:       "watch",
		ShortUsage: common.BinaryName + " watch [--interval D]",
		ShortHelp:  "Live dashboard of both connections",
		FlagSet:    watchFlagSet,
		Exec: run(func(ctx context.Context, c *cli.CLI) error {
			return c.Watch(ctx, *watchInterval)
		}),
	}

	root := &ffcli.Command{
		ShortUsage: common.BinaryName + " [flags] <subcommand> [args...]",
		FlagSet:    rootFlagSet,
		Options:    []ff.Option{ff.WithEnvVarPrefix(common.EnvPrefix)},
		Subcommands: []*ffcli.Command{
			daemonCmd, scanCmd, connectCmd, disconnectCmd, forgetCmd, statusCmd, ackCmd,
			tunnelsCmd, tunnelAddCmd, tunnelRmCmd, upCmd, downCmd, historyCmd, watchCmd,
		},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if rf.version {
		printVersion()
		os.Exit(0)
	}

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, ffcli.DefaultUsageFunc(root))
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(rf rootFlags) (*config.Config, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return nil, err
	}

	if rf.dataDir != "" {
		cfg.DataDir = rf.dataDir
	}
	if rf.wifiInterface != "" {
		cfg.Wireless.Interface = rf.wifiInterface
	}
	if rf.apInterface != "" {
		cfg.Wireless.APInterface = rf.apInterface
	}
	if rf.logLevel != "" {
		cfg.Log.Level = strings.ToLower(rf.logLevel)
	}
	if rf.verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// open loads the configuration, initializes logging and builds the
// orchestrator. The returned orchestrator's Close also closes the logger.
func open(rf rootFlags) (*closingOrchestrator, error) {
	cfg, err := loadConfig(rf)
	if err != nil {
		return nil, err
	}

	// Initialize logger with structured logging and optional file output
	if err := common.InitLogger(cfg.LogSettings()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	o, err := orchestrator.New(cfg)
	if err != nil {
		common.CloseLogger()
		return nil, err
	}
	return &closingOrchestrator{Orchestrator: o}, nil
}

// closingOrchestrator closes the logger after the orchestrator.
type closingOrchestrator struct {
	*orchestrator.Orchestrator
}

func (c *closingOrchestrator) Close() error {
	err := c.Orchestrator.Close()
	common.CloseLogger()
	return err
}

// runDaemon hosts the reconciler until the context is cancelled.
func runDaemon(ctx context.Context, rf rootFlags, autoReconnect bool) error {
	o, err := open(rf)
	if err != nil {
		return err
	}
	defer o.Close()

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)

	if err := o.Start(ctx); err != nil {
		return err
	}

	if autoReconnect || o.Config().AutoReconnect {
		if err := o.AutoReconnect(ctx); err != nil {
			common.LogWarn("Auto-reconnect: %v", err)
		}
	}

	<-ctx.Done()
	common.LogInfo("Shutting down")
	return nil
}

func printVersion() {
	fmt.Printf("%s v%s\n", common.AppName, appVersion)
	if buildTime != "unknown" {
		fmt.Printf("  Build:  %s\n", buildTime)
		fmt.Printf("  Commit: %s\n", commitSHA)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
