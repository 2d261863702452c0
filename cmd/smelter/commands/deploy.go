package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/smelter-dev/smelter/internal/config"
	"github.com/smelter-dev/smelter/internal/deployment"
	"github.com/smelter-dev/smelter/internal/logging"
	"github.com/smelter-dev/smelter/internal/metrics"
	"github.com/smelter-dev/smelter/internal/watch"
	"github.com/smelter-dev/smelter/pkg/types"
	"github.com/spf13/cobra"
)

type deployFlags struct {
	noTracking     bool
	parallel       bool
	maxConcurrency int
	watch          bool
	timeout        time.Duration
	metricsFile    string
	metricsAddr    string
}

// NewDeployCmd creates the deploy command
func NewDeployCmd() *cobra.Command {
	flags := &deployFlags{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the project contracts",
		Long: `Deploy every contract of the project manifest in dependency order.

Contracts with a preset address are never deployed. With tracking enabled,
contracts already deployed with the same bytecode and arguments on the
connected chain are skipped.`,
		Example: `  smelter deploy
  smelter deploy --parallel --max-concurrency 4
  smelter deploy --watch --metrics-file /var/lib/node_exporter/smelter.prom
  smelter deploy --watch --metrics-addr 127.0.0.1:9464
  smelter deploy -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.noTracking, "no-tracking", false, "Deploy without reading or writing the tracking database")
	cmd.Flags().BoolVar(&flags.parallel, "parallel", false, "Deploy independent contracts concurrently")
	cmd.Flags().IntVar(&flags.maxConcurrency, "max-concurrency", 0, "Maximum concurrent deployments with --parallel (0 = unbounded)")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "Redeploy when artifacts or the project config change")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Abort a deploy run after this long (0 = no limit)")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after every run")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address at /metrics while deploying")

	return cmd
}

func runDeploy(cmd *cobra.Command, flags *deployFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	project, cfg, err := openProject()
	if err != nil {
		return err
	}

	client, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	collector := metrics.NewCollector()
	if flags.metricsAddr != "" {
		srv, err := collector.Serve(flags.metricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Warn("failed to stop metrics server", logging.Err(err))
			}
		}()
	}
	deployer := deployment.NewDeployer(deployment.Config{
		Project:        project,
		Connector:      client,
		Recorder:       collector,
		MaxConcurrency: flags.maxConcurrency,
	})

	opts := deployOptions(cmd, flags)
	out := cmd.OutOrStdout()

	once := func(ctx context.Context) error {
		if flags.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, flags.timeout)
			defer cancel()
		}

		var (
			result types.DeployedContracts
			err    error
		)
		deploy := func() error {
			var derr error
			result, derr = deployer.Deploy(ctx, opts)
			return derr
		}

		if flags.watch || structuredOutput() {
			err = deploy()
		} else {
			err = WithSpinner("Deploying contracts", deploy)
		}

		if perr := printDeployResult(out, result, err); perr != nil {
			logging.Warn("failed to print deploy result", logging.Err(perr))
		}
		if flags.metricsFile != "" {
			if merr := collector.WriteTextfile(flags.metricsFile); merr != nil {
				logging.Warn("failed to write metrics", logging.Path(flags.metricsFile), logging.Err(merr))
			}
		}
		return err
	}

	if !flags.watch {
		return once(ctx)
	}

	if err := once(ctx); err != nil {
		logging.Error("deploy failed", logging.Err(err))
	}

	watcher := watch.New(watch.Config{
		Dirs:  watchDirs(project, cfg),
		Match: watchMatch(project),
	})
	if !structuredOutput() {
		fmt.Fprintln(out, Hint("Watching for changes, press Ctrl+C to stop"))
	}
	return watcher.Run(ctx, once)
}

// deployOptions turns flags the user actually set into manifest overrides
func deployOptions(cmd *cobra.Command, flags *deployFlags) deployment.DeployOptions {
	var opts deployment.DeployOptions
	if cmd.Flags().Changed("no-tracking") {
		enabled := !flags.noTracking
		opts.TrackingEnabled = &enabled
	}
	if cmd.Flags().Changed("parallel") {
		parallel := flags.parallel
		opts.Parallel = &parallel
	}
	return opts
}

// watchDirs returns the project directory and, when it exists, the
// artifacts directory
func watchDirs(project *config.Project, cfg *config.ProjectConfig) []string {
	dirs := []string{project.Dir}
	if cfg.Sources.Artifacts == "" {
		return dirs
	}
	artifacts := project.Resolve(cfg.Sources.Artifacts)
	if filepath.Clean(artifacts) == filepath.Clean(project.Dir) {
		return dirs
	}
	if info, err := os.Stat(artifacts); err == nil && info.IsDir() {
		dirs = append(dirs, artifacts)
	}
	return dirs
}

// watchMatch selects artifact files and the project config file
func watchMatch(project *config.Project) func(string) bool {
	configFile := filepath.Clean(project.ConfigFile)
	return func(path string) bool {
		switch filepath.Ext(path) {
		case deployment.ExtBytecode, deployment.ExtABI:
			return true
		}
		return filepath.Clean(path) == configFile
	}
}

// printDeployResult prints the contracts handled by a run, including the
// partial result of a failed one
func printDeployResult(w io.Writer, result types.DeployedContracts, deployErr error) error {
	if structuredOutput() {
		report := deployReport{Contracts: result.Sorted()}
		if report.Contracts == nil {
			report.Contracts = []types.DeployedContract{}
		}
		if deployErr != nil {
			report.Error = deployErr.Error()
			report.ErrorKind = deployment.KindOf(deployErr).String()
		}
		return writeStructured(w, report)
	}

	if len(result) > 0 {
		rows := make([][]string, 0, len(result))
		for _, c := range result.Sorted() {
			status := "deployed"
			if c.Skipped {
				status = "skipped"
			}
			rows = append(rows, []string{c.Name, c.Address.Hex(), StatusBadge(status), c.ArtifactPath})
		}
		fmt.Fprint(w, RenderTable([]string{"CONTRACT", "ADDRESS", "STATUS", "ARTIFACT"}, rows))
		fmt.Fprintln(w)
	}

	if deployErr == nil {
		if isTTY() {
			fmt.Fprintln(w, StyleSuccess.Render("✓ "+deployment.Summary(result)))
		} else {
			fmt.Fprintln(w, "[OK] "+deployment.Summary(result))
		}
	}
	return nil
}

type deployReport struct {
	Contracts []types.DeployedContract `json:"contracts" yaml:"contracts"`
	Error     string                   `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind string                   `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}
