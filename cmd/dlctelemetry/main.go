// dlctelemetry is the one-shot startup telemetry agent for deep
// learning images. It reports a usage ping and tags the running
// instance, both best-effort, both bounded by a hard wall-clock budget.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dlctelemetry/config"
	"dlctelemetry/internal/dispatch"
	"dlctelemetry/internal/logging"
	"dlctelemetry/internal/telemetry"
)

func main() {
	if err := logging.Configure(logging.LevelError); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// options carries the image description flags shared by the root
// command and the unit subcommands.
type options struct {
	framework        string
	frameworkVersion string
	imgType          string
	pkgType          string
	configPath       string
	budget           time.Duration
	debug            bool
}

func (o *options) telemetryConfig() (telemetry.Config, error) {
	return telemetry.NormalizeConfig(telemetry.Config{
		Framework:        telemetry.Framework(o.framework),
		FrameworkVersion: o.frameworkVersion,
		ImageType:        telemetry.ImageType(o.imgType),
		PackageType:      telemetry.PackageType(o.pkgType),
	})
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "dlctelemetry",
		Short:         "Best-effort startup telemetry for deep learning images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.debug {
				return logging.Configure(logging.LevelDebug)
			}
			settings, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return logging.Configure(settings.LogLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDispatch(ctx, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.framework, "framework", "", "Framework shipped in the image (tensorflow, mxnet, pytorch)")
	pf.StringVar(&opts.frameworkVersion, "framework-version", "", "Framework version, X.Y or X.Y.Z")
	pf.StringVar(&opts.imgType, "img-type", "", "Image type (training, inference, dlami, ami, docker)")
	pf.StringVar(&opts.pkgType, "pkg-type", "", "Package type (conda, pip)")
	pf.StringVar(&opts.configPath, "config", "", "Settings file path")
	pf.DurationVar(&opts.budget, "budget", 0, "Dispatch budget, overrides the settings file")
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	_ = cmd.MarkPersistentFlagRequired("framework")
	_ = cmd.MarkPersistentFlagRequired("framework-version")
	_ = cmd.MarkPersistentFlagRequired("img-type")
	_ = cmd.MarkPersistentFlagRequired("pkg-type")

	cmd.AddCommand(reportCmd(opts), tagCmd(opts))
	return cmd
}

// runDispatch re-executes this binary as two child unit processes and
// supervises them under the shared budget. The tag unit is waited on
// first: the instance tag is the signal that must land if anything does.
func runDispatch(ctx context.Context, opts *options) error {
	cfg, err := opts.telemetryConfig()
	if err != nil {
		return err
	}

	settings, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	budget, err := dispatchBudget(opts, settings)
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	units := []dispatch.Unit{
		{Name: "tag", Path: exe, Args: unitArgs("tag", cfg, opts)},
		{Name: "report", Path: exe, Args: unitArgs("report", cfg, opts)},
	}

	start := time.Now()
	results := dispatch.Run(ctx, units, budget)
	for _, res := range results {
		slog.Debug("unit finished", "unit", res.Name, "completed", res.Completed, "status", res.Status)
	}
	slog.Debug("dispatch done", "elapsed", time.Since(start))
	return nil
}

// unitArgs rebuilds the command line for a unit subcommand, passing the
// already-normalized framework version so children skip renormalizing.
func unitArgs(unit string, cfg telemetry.Config, opts *options) []string {
	args := []string{
		unit,
		"--framework", string(cfg.Framework),
		"--framework-version", cfg.FrameworkVersion,
		"--img-type", string(cfg.ImageType),
		"--pkg-type", string(cfg.PackageType),
	}
	if opts.configPath != "" {
		args = append(args, "--config", opts.configPath)
	}
	if opts.budget > 0 {
		args = append(args, "--budget", opts.budget.String())
	}
	if opts.debug {
		args = append(args, "--debug")
	}
	return args
}

// dispatchBudget resolves the budget: an explicit --budget flag beats
// the settings file.
func dispatchBudget(opts *options, settings *config.Settings) (time.Duration, error) {
	if opts.budget > 0 {
		return opts.budget, nil
	}
	return settings.DispatchBudget()
}
