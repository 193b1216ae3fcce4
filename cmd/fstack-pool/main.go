// File: cmd/fstack-pool/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// fstack-pool starts a core-pinned stack worker pool, or prints its worker
// plan with --dry-run.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/momentics/hioload-fstack/api"
	"github.com/momentics/hioload-fstack/control"
	"github.com/momentics/hioload-fstack/facade"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	ExitCodeExecuteFailed = 1
	ExitCodeInvalidConfig = 2
)

type options struct {
	configPath  string
	threads     int
	cores       string
	stackConf   string
	primary     bool
	ioRatio     int
	dryRun      bool
	metricsAddr string
	logLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if api.CodeOf(err) == api.ErrCodeConfig {
			os.Exit(ExitCodeInvalidConfig)
		}
		os.Exit(ExitCodeExecuteFailed)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "fstack-pool",
		Short: "Run a pool of core-pinned user-space stack workers",
		Long: "Builds one event loop per worker, pins each to a core taken round-robin from the core list " +
			"and starts the primary worker before any secondary attaches to the shared stack context.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "pool configuration file (yaml or toml)")
	flags.IntVarP(&opts.threads, "threads", "n", 0, "number of stack workers (default: one per core)")
	flags.StringVar(&opts.cores, "cores", "", "cores to pin workers to, cpulist syntax, e.g. 2-5,8")
	flags.StringVar(&opts.stackConf, "stack-conf", "", "stack configuration file passed to each worker")
	flags.BoolVar(&opts.primary, "primary", false, "let the first worker initialize the shared stack context")
	flags.IntVar(&opts.ioRatio, "io-ratio", 0, "percentage of loop time given to IO (1..100)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print the worker plan and exit")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return rootCmd
}

// loadConfig merges the config file, if any, with flags set on the command
// line. Defaults are applied last so a thread count left unset follows the
// final core list.
func loadConfig(cmd *cobra.Command, opts *options) (*control.FileConfig, error) {
	fc := &control.FileConfig{}
	if opts.configPath != "" {
		loaded, err := control.ReadPoolConfig(opts.configPath)
		if err != nil {
			return nil, api.WrapError(api.ErrCodeConfig, err)
		}
		fc = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("cores") {
		cores, err := control.ParseCoreList(opts.cores)
		if err != nil {
			return nil, api.WrapError(api.ErrCodeConfig, err)
		}
		fc.CoreIDs = cores
	}
	if flags.Changed("threads") {
		fc.ThreadCount = opts.threads
	}
	if flags.Changed("stack-conf") {
		fc.StackConfig = opts.stackConf
	}
	if flags.Changed("primary") {
		fc.Primary = opts.primary
	}
	if flags.Changed("io-ratio") {
		fc.IORatio = opts.ioRatio
	}
	if flags.Changed("metrics-addr") {
		fc.MetricsAddr = opts.metricsAddr
	}
	if flags.Changed("log-level") {
		fc.LogLevel = opts.logLevel
	}
	fc.ApplyDefaults()
	return fc, nil
}

func run(cmd *cobra.Command, opts *options) error {
	fc, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if err := control.InitLogger(fc.LogLevel, fc.LogFile); err != nil {
		return api.WrapError(api.ErrCodeConfig, err)
	}

	if opts.dryRun {
		plan, err := facade.Plan(fc.PoolConfig())
		if err != nil {
			return err
		}
		return printPlan(cmd.OutOrStdout(), plan)
	}

	fs, err := facade.New(facade.FromFile(fc))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fc.MetricsAddr != "" {
		srv := serveMetrics(fc.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := fs.Start(ctx); err != nil {
		return errors.Annotate(err, "start stack workers")
	}
	log.Info("fstack-pool running", zap.Int("workers", len(fs.Descriptors())))

	<-ctx.Done()
	log.Info("shutting down", zap.Any("state", fs.DebugState()))
	return fs.Shutdown()
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", control.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return srv
}

func printPlan(w io.Writer, plan []api.WorkerDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tCORE\tROLE\tSTACK ARGS")
	for _, d := range plan {
		args := api.StackArgs(d)
		fmt.Fprintf(tw, "%d\t%d\t%s\t%v\n", d.Index, d.CoreID, d.Role, args)
	}
	return tw.Flush()
}
