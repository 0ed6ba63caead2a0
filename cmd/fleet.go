package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dominodatalab/stevedore/internal/deployjob"
	"github.com/dominodatalab/stevedore/internal/relay"
)

var (
	fleetFile        string
	fleetRelayPath   string
	fleetConcurrency int64

	fleetCmd = &cobra.Command{
		Use:   "fleet",
		Short: "Deploy a manifest of workloads, several at a time",
		Long: `Fleet reads a manifest describing many workloads and deploys them with
bounded concurrency. Every target is attempted even when others fail; the
process exit code is the worst outcome across the fleet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := deployjob.LoadFleet(fleetFile)
			if err != nil {
				return err
			}

			base := deployjob.Config{
				Kind:        "deployment",
				Namespace:   "default",
				BrokerOpts:  brokerOpts,
				JournalPath: journalPath,
				Debug:       debug,
			}
			if filename := fleetRelayPathFile(); filename != "" {
				if base.RelayPath, err = relay.LoadPath(filename); err != nil {
					return err
				}
			}

			configs, err := manifest.Configs(base)
			if err != nil {
				return err
			}

			// Configure every target before deploying any of them, so a bad
			// manifest entry is caught while the fleet is still untouched.
			jobs := make([]*deployjob.Job, 0, len(configs))
			for _, cfg := range configs {
				job, err := deployjob.New(cfg)
				if err != nil {
					return errors.Wrapf(err, "configuring deployment of %s", cfg.Service)
				}
				jobs = append(jobs, job)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			code := deployjob.RunFleet(ctx, jobs, fleetConcurrency, os.Stdout, deployjob.NewLogger(debug))
			os.Exit(code)
			return nil
		},
	}
)

func fleetRelayPathFile() string {
	if fleetRelayPath != "" {
		return fleetRelayPath
	}
	return os.Getenv("STEVEDORE_RELAY_PATH")
}

func init() {
	fleetCmd.Flags().SortFlags = false

	fleetCmd.Flags().StringVar(&fleetFile, "file", "", "Fleet manifest to deploy")
	fleetCmd.Flags().StringVar(&fleetRelayPath, "relay-path", "", "Relay path document used by targets without their own (defaults to $STEVEDORE_RELAY_PATH)")
	fleetCmd.Flags().Int64Var(&fleetConcurrency, "concurrency", 4, "Maximum number of targets deployed at once")

	_ = fleetCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(fleetCmd)
}
