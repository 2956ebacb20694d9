package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"dlctelemetry/config"
	"dlctelemetry/internal/hostprobe"
	"dlctelemetry/internal/imds"
	"dlctelemetry/internal/telemetry"
)

// The unit subcommands are the child-process entry points spawned by
// the dispatcher. Each rebuilds its own instance identity and host
// snapshot from scratch: units share no state, so one hanging or
// crashing cannot taint the other.

func reportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:    "report",
		Short:  "Run the usage ping unit",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, settings, err := unitContext(opts)
			if err != nil {
				return err
			}

			reporter := &telemetry.Reporter{
				Config:        cfg,
				Identity:      resolveIdentity(ctx, settings),
				PythonVersion: hostprobe.New().PythonVersion(ctx),
				Artifacts:     artifactWriter(settings),
			}
			slog.Debug("report unit finished", "status", reporter.Run(ctx))
			return nil
		},
	}
}

func tagCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:    "tag",
		Short:  "Run the instance tagging unit",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, settings, err := unitContext(opts)
			if err != nil {
				return err
			}

			tagger := &telemetry.Tagger{
				Config:    cfg,
				Identity:  resolveIdentity(ctx, settings),
				Host:      hostprobe.New().Describe(ctx),
				Artifacts: artifactWriter(settings),
			}
			slog.Debug("tag unit finished", "status", tagger.Run(ctx))
			return nil
		},
	}
}

func unitContext(opts *options) (telemetry.Config, *config.Settings, error) {
	cfg, err := opts.telemetryConfig()
	if err != nil {
		return telemetry.Config{}, nil, err
	}
	settings, err := config.Load(opts.configPath)
	if err != nil {
		return telemetry.Config{}, nil, err
	}
	return cfg, settings, nil
}

func resolveIdentity(ctx context.Context, settings *config.Settings) imds.Identity {
	client := imds.NewClient(imds.WithEndpoint(settings.MetadataEndpoint))
	return client.Resolve(ctx)
}

func artifactWriter(settings *config.Settings) *telemetry.ArtifactWriter {
	if !settings.ArtifactsEnabled() {
		return nil
	}
	return &telemetry.ArtifactWriter{Dir: settings.ArtifactDir}
}
