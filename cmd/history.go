package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dominodatalab/stevedore/internal/journal"
)

var (
	historyService string
	historyLimit   int
	historyJSON    bool

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show deployment outcomes recorded in the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if journalPath == "" {
				return errors.New("journaling is disabled; no history available")
			}

			outcomes, err := journal.New(journalPath).List(historyService, historyLimit)
			if err != nil {
				return err
			}

			if historyJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(outcomes)
			}

			if len(outcomes) == 0 {
				fmt.Println("no recorded deployments")
				return nil
			}
			for _, outcome := range outcomes {
				fmt.Printf("%s  id=%s\n", outcome.CompletedAt.Local().Format("2006-01-02 15:04:05"), outcome.ID)
				outcome.WriteSummary(os.Stdout)
			}
			return nil
		},
	}
)

func init() {
	historyCmd.Flags().SortFlags = false

	historyCmd.Flags().StringVar(&historyService, "service", "", "Only show deployments of this service")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of records to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Emit records as JSON")

	rootCmd.AddCommand(historyCmd)
}
