package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AL68-co/fuse-crates/internal/metrics"
	"github.com/AL68-co/fuse-crates/mount"
)

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Mount the source directory",
	Long: `Mount serves the source directory until interrupted. SIGHUP rescans
the source directory for new archives and retries broken ones.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMount,
}

func init() {
	flags := mountCmd.Flags()
	flags.String("mountpoint", "", "directory to mount on")
	flags.Bool("allow-other", false, "allow other users to access the mount")
	flags.Bool("prewarm", false, "index every archive in the background after mounting")
	flags.Int("prewarm-workers", 4, "archives indexed concurrently when prewarming")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := cmd.Flags().Set("mountpoint", args[0]); err != nil {
			return err
		}
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Mountpoint == "" {
		return errors.New("mountpoint is required")
	}
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reg := metrics.NewRegistry()
	fsys, err := openFS(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := fsys.Close(); err != nil {
			log.Warn("closing archives", "error", err)
		}
	}()

	server, err := mount.Mount(mount.Options{
		Mountpoint: cfg.Mountpoint,
		FS:         fsys,
		AllowOther: cfg.AllowOther,
		Debug:      cfg.Debug,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Prewarm {
		go func() {
			if err := fsys.Prewarm(ctx, cfg.PrewarmWorkers); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("prewarm stopped", "error", err)
			}
		}()
	}

	unmounted := make(chan struct{})
	go func() {
		server.Wait()
		close(unmounted)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case <-unmounted:
			log.Info("filesystem unmounted externally")
			return nil
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				added, err := fsys.Rescan(ctx)
				if err != nil {
					log.Error("rescan failed", "error", err)
					continue
				}
				log.Info("rescanned source directory", "added", added)
				continue
			}
			log.Info("unmounting", "signal", sig.String())
			cancel()
			if err := server.Unmount(); err != nil {
				return fmt.Errorf("unmounting %s: %w", cfg.Mountpoint, err)
			}
			<-unmounted
			return nil
		}
	}
}
