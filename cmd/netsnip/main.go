// Command netsnip runs the LAN access-control agent: it discovers hosts on
// the local subnet, can selectively sever a host's connectivity via ARP
// poisoning, meters per-host bandwidth from a live capture, and enforces
// per-host rate limits.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanctl/netsnip/internal/apperrors"
	"github.com/lanctl/netsnip/internal/arpctl"
	"github.com/lanctl/netsnip/internal/boundary"
	"github.com/lanctl/netsnip/internal/config"
	"github.com/lanctl/netsnip/internal/ifaceselect"
	"github.com/lanctl/netsnip/internal/limiter"
	"github.com/lanctl/netsnip/internal/logger"
	"github.com/lanctl/netsnip/internal/monitor"
	"github.com/lanctl/netsnip/internal/scanner"
	"github.com/lanctl/netsnip/internal/storage"
	"github.com/lanctl/netsnip/internal/telemetry"
	"github.com/lanctl/netsnip/internal/vendor"
)

var (
	cfgFile   string
	ifaceFlag string
)

func main() {
	root := &cobra.Command{
		Use:   "netsnip",
		Short: "LAN access-control and bandwidth-limiting agent",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (TOML/YAML/JSON)")
	root.PersistentFlags().StringVar(&ifaceFlag, "interface", "", "network interface to bind (auto-detected if empty)")

	root.AddCommand(
		newScanCmd(),
		newCutCmd(),
		newRestoreCmd(),
		newLimitCmd(),
		newUnlimitCmd(),
		newServeCmd(),
		newInitConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles every wired component, shared across subcommands.
type app struct {
	cfg        *config.Config
	selection  *ifaceselect.Selection
	scanner    *scanner.Scanner
	arpctl     *arpctl.Controller
	monitor    *monitor.Monitor
	limiter    *limiter.Limiter
	store      storage.DeviceStore
	dispatcher *boundary.Dispatcher
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if ifaceFlag != "" {
		cfg.Network.Interface = ifaceFlag
	}

	if err := logger.Initialize(cfg.Logging.File, cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	selector := ifaceselect.New(cfg.Network.Interface)
	selection, err := selector.Select()
	if err != nil {
		return nil, err
	}

	classifier := vendor.NewDefaultClassifier()
	sc := scanner.New(selection, classifier)

	ac := arpctl.New(selection.IfName, selection.LocalMAC, selection.LocalIPv4)

	if gwIP, gwMAC := sc.Gateway(); gwMAC != "" {
		_ = ac.SetGateway(gwIP, gwMAC)
	}

	mon := monitor.New(selection.IfName, selection.LocalIPv4)
	lim := limiter.New()

	var store storage.DeviceStore
	if cfg.Storage.Path != "" {
		sqliteStore, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			logger.Warn("storage unavailable, continuing without persistence: %v", err)
		} else {
			store = sqliteStore
		}
	}

	dispatcher := boundary.New(selection, sc, ac, mon, lim, store)

	return &app{
		cfg:        cfg,
		selection:  selection,
		scanner:    sc,
		arpctl:     ac,
		monitor:    mon,
		limiter:    lim,
		store:      store,
		dispatcher: dispatcher,
	}, nil
}

// syncGatewayAfterScan re-reads the scanner's freshly detected gateway into
// the ARP controller; gateway MAC resolution only happens during a scan.
func (a *app) syncGatewayAfterScan() {
	if gwIP, gwMAC := a.scanner.Gateway(); gwMAC != "" {
		_ = a.arpctl.SetGateway(gwIP, gwMAC)
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "scan the local subnet and print discovered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			devices, err := a.dispatcher.ScanNetwork()
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Printf("%-18s %-18s %-10s %-8s %s\n", d.IP, d.MAC, d.DeviceType, d.Status, d.Name)
			}
			return nil
		},
	}
}

func newCutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cut <device_id>",
		Short: "sever a device's connectivity via ARP poisoning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			if _, err := a.dispatcher.ScanNetwork(); err != nil {
				return err
			}
			a.syncGatewayAfterScan()

			result, err := a.dispatcher.CutDevice(args[0])
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <device_id>",
		Short: "restore a previously cut device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			if _, err := a.dispatcher.ScanNetwork(); err != nil {
				return err
			}

			result, err := a.dispatcher.RestoreDevice(args[0])
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}
}

func newLimitCmd() *cobra.Command {
	var mbps float64
	cmd := &cobra.Command{
		Use:   "limit <device_id>",
		Short: "install a bandwidth ceiling for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			if _, err := a.dispatcher.ScanNetwork(); err != nil {
				return err
			}

			result, err := a.dispatcher.LimitBandwidth(args[0], mbps)
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}
	cmd.Flags().Float64Var(&mbps, "mbps", 0, "bandwidth ceiling in megabits per second, (0, 10000]")
	return cmd
}

func newUnlimitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlimit <device_id>",
		Short: "remove a device's bandwidth ceiling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			if _, err := a.dispatcher.ScanNetwork(); err != nil {
				return err
			}

			result, err := a.dispatcher.RemoveBandwidthLimit(args[0])
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP boundary API and telemetry websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}

			if _, err := a.dispatcher.ScanNetwork(); err != nil {
				logger.Warn("initial scan failed: %v", err)
			}
			a.syncGatewayAfterScan()

			if err := a.monitor.Start(); err != nil {
				if apperrors.Is(err, apperrors.CaptureUnavailable) {
					logger.Warn("packet capture unavailable, running in scan-only mode: %v", err)
				} else {
					return err
				}
			}

			hub := telemetry.NewHub()
			go hub.Run()

			ctx, cancel := context.WithCancel(context.Background())
			go broadcastLoop(ctx, a, hub)

			router := boundary.NewRouter(a.dispatcher).Mux()
			router.Handle("/ws", hub)

			addr := fmt.Sprintf("%s:%d", a.cfg.API.Host, a.cfg.API.Port)
			srv := &http.Server{Addr: addr, Handler: router}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("listening on %s", addr)
				serveErr <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serveErr:
				if err != nil && err != http.ErrServerClosed {
					cancel()
					return err
				}
			case <-sigCh:
				logger.Info("shutdown requested, restoring active cuts")
			}

			cancel()
			a.shutdown(srv)
			return nil
		},
	}
}

// shutdown restores every actively cut device before the process exits, per
// the no-cuts-survive-restart requirement, then stops background workers.
func (a *app) shutdown(srv *http.Server) {
	for _, cut := range a.arpctl.ActiveCuts() {
		if err := a.arpctl.Restore(cut.TargetIP); err != nil {
			logger.Warn("failed to restore %s on shutdown: %v", cut.TargetIP, err)
		}
	}

	a.monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func newInitConfigCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefaultTOML(out); err != nil {
				return err
			}
			fmt.Printf("wrote default configuration to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "netsnip.toml", "output path for the generated config file")
	return cmd
}

func broadcastLoop(ctx context.Context, a *app, hub *telemetry.Hub) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.Broadcast("bandwidth_update", a.dispatcher.GetBandwidthUpdates())
		}
	}
}
