package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dominodatalab/stevedore/internal/deployjob"
	"github.com/dominodatalab/stevedore/internal/relay"
	"github.com/dominodatalab/stevedore/internal/report"
	"github.com/dominodatalab/stevedore/internal/rollout"
)

var (
	resourceKind   string
	namespace      string
	container      string
	relayPathFile  string
	maxWait        time.Duration
	pollInterval   time.Duration
	commandTimeout time.Duration
	healthURL      string
	outputFormat   string

	deployCmd = &cobra.Command{
		Use:   "deploy <service> <image>",
		Short: "Update one workload's container image and verify the rollout",
		Long: `Deploy connects through the configured relay path, points the workload's
container at the given image, and watches the rollout converge. The process
exits 0 when the rollout was confirmed, 1 when the deployment failed, and 2
when the image was applied but the rollout could not be confirmed within the
wait budget.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat != "summary" && outputFormat != "json" {
				return errors.Errorf("output format %q is invalid (supported formats: summary, json)", outputFormat)
			}

			path, err := loadRelayPath(relayPathFile)
			if err != nil {
				return err
			}

			cfg := deployjob.Config{
				Service:        args[0],
				Image:          args[1],
				Kind:           resourceKind,
				Namespace:      namespace,
				Container:      container,
				RelayPath:      path,
				MaxWait:        maxWait,
				PollInterval:   pollInterval,
				CommandTimeout: commandTimeout,
				HealthURL:      healthURL,
				BrokerOpts:     brokerOpts,
				JournalPath:    journalPath,
				Debug:          debug,
			}

			job, err := deployjob.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			outcome := job.Run(ctx)
			job.Cleanup(false)

			writeOutcome(outcome)
			os.Exit(outcome.ExitCode)
			return nil
		},
	}
)

// loadRelayPath resolves the relay path document from the flag or the
// environment. A deployment cannot run without one.
func loadRelayPath(flagValue string) (relay.Path, error) {
	filename := flagValue
	if filename == "" {
		filename = os.Getenv("STEVEDORE_RELAY_PATH")
	}
	if filename == "" {
		return relay.Path{}, errors.New("a relay path is required: pass --relay-path or set STEVEDORE_RELAY_PATH")
	}
	return relay.LoadPath(filename)
}

func writeOutcome(outcome *report.Outcome) {
	if outputFormat == "json" {
		_ = outcome.WriteJSON(os.Stdout)
		return
	}
	outcome.WriteSummary(os.Stdout)
}

func init() {
	deployCmd.Flags().SortFlags = false

	deployCmd.Flags().StringVar(&resourceKind, "resource-kind", "deployment", "Workload resource kind (deployment or statefulset)")
	deployCmd.Flags().StringVarP(&namespace, "namespace", "n", "default", "Namespace containing the workload")
	deployCmd.Flags().StringVar(&container, "container", "", "Container to update (defaults to the service name)")
	deployCmd.Flags().StringVar(&relayPathFile, "relay-path", "", "Relay path document describing the SSH hops (defaults to $STEVEDORE_RELAY_PATH)")
	deployCmd.Flags().DurationVar(&maxWait, "max-wait", deployjob.DefaultMaxWait, "Rollout verification budget")
	deployCmd.Flags().DurationVar(&pollInterval, "poll-interval", rollout.DefaultPollInterval, "Delay between rollout status queries")
	deployCmd.Flags().DurationVar(&commandTimeout, "command-timeout", deployjob.DefaultCommandTimeout, "Timeout for each remote command")
	deployCmd.Flags().StringVar(&healthURL, "health-url", "", "URL curled from inside the updated container after verification")
	deployCmd.Flags().StringVar(&outputFormat, "output", "summary", "Outcome format (summary or json)")

	rootCmd.AddCommand(deployCmd)
}
