package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dominodatalab/stevedore/internal/journal"
	"github.com/dominodatalab/stevedore/internal/message"
)

var (
	debug bool

	messageBroker string
	amqpURI       string
	amqpQueue     string

	journalPath string

	brokerOpts *message.Options

	rootCmd = &cobra.Command{
		Use:               "stevedore",
		Short:             "Deploy container images to remote clusters over chained SSH relays.",
		PersistentPreRunE: processBrokerOpts,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func processBrokerOpts(cmd *cobra.Command, args []string) error {
	if messageBroker == "" {
		return nil
	}

	brokerOpts = &message.Options{
		Broker:    message.Broker(strings.ToLower(messageBroker)),
		AmqpURI:   amqpURI,
		AmqpQueue: amqpQueue,
	}
	return message.ValidateOpts(brokerOpts)
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging and mirror remote command output")
	rootCmd.PersistentFlags().StringVar(&messageBroker, "message-broker", "", fmt.Sprintf("Publish deployment outcomes to a message broker (supported values: %v)", message.SupportedBrokers))
	rootCmd.PersistentFlags().StringVar(&amqpURI, "amqp-uri", "", "AMQP broker connection URI")
	rootCmd.PersistentFlags().StringVar(&amqpQueue, "amqp-queue", "", "AMQP broker queue name")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", journal.DefaultPath(), "Journal database recording deployment outcomes (empty disables journaling)")
}
