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

	"github.com/open-policy-agent/ocp-reposync/internal/pool"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the selected repositories in sync until interrupted",
		Long: "Keep the selected repositories in sync until interrupted. Every repository is resynced at its " +
			"configured interval; SIGHUP triggers an immediate resync of all of them.",
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	cmd.Flags().StringSlice("only", nil, "Sync only repositories matching these glob patterns")
	cmd.Flags().Int("workers", 4, "Number of parallel sync workers")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	only, _ := cmd.Flags().GetStringSlice("only")
	workers, _ := cmd.Flags().GetInt("workers")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if workers < 1 {
		return fmt.Errorf("--workers must be >= 1 (got %d)", workers)
	}

	root, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	repos, err := selectRepositories(root, only)
	if err != nil {
		return err
	}

	log := newLogger(cmd, root)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	eng, err := newEngine(ctx, root, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	repoWorkers, err := newWorkers(eng, repos, nil)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metricsHandler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server stopped: %v", err)
				cancel()
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Infof("serving metrics on %s", metricsAddr)
	}

	p := pool.New(ctx, workers)
	for _, w := range repoWorkers {
		p.Add(w.Name(), w.Execute)
	}
	log.Infof("syncing %d repositories with %d workers", len(repoWorkers), workers)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for done := false; !done; {
		select {
		case <-hup:
			log.Infof("resync requested")
			for _, w := range repoWorkers {
				if err := p.Trigger(w.Name()); err != nil {
					log.Debugf("trigger %s: %v", w.Name(), err)
				}
			}
		case <-ctx.Done():
			done = true
		}
	}

	p.Wait()

	_, err = writeStatus(cmd.OutOrStdout(), repoWorkers)
	return err
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
