package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/internal/queue"
	"github.com/xkilldash9x/catalog-cli/internal/reporting"
	"github.com/xkilldash9x/catalog-cli/internal/service"
)

// backfillRunID tags journal rows that were copied from the ledger files
// rather than recorded live.
const backfillRunID = "ledger-backfill"

func newStatusCmd(a *app) *cobra.Command {
	var (
		list    []string
		format  string
		journal bool
		sync    bool
		runID   string
	)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Shows ledger counts, set listings and the outcome journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger.Named("status")

			sets := make([]queue.Set, 0, len(list))
			for _, name := range list {
				set, err := queue.ParseSet(name)
				if err != nil {
					return err
				}
				sets = append(sets, set)
			}

			q, err := service.OpenLedger(a.cfg, logger)
			if err != nil {
				return err
			}
			reporter, err := reporting.NewWriter(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer reporter.Close()

			if err := reporter.Tally(q.Tally()); err != nil {
				return err
			}
			for _, set := range sets {
				if err := reporter.Entries(set, q.Entries(set)); err != nil {
					return err
				}
			}

			if !journal && !sync {
				return nil
			}
			if a.cfg.Database().URL == "" {
				return fmt.Errorf("no journal configured (set database.url or CATALOG_DATABASE_URL)")
			}
			store, pool, err := service.InitializeJournal(ctx, a.cfg.Database(), logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if sync {
				n, err := store.Backfill(ctx, backfillRunID, q.Results())
				if err != nil {
					return err
				}
				logger.Info("Journal synchronized with the ledger.", zap.Int64("inserted", n))
				fmt.Fprintf(cmd.ErrOrStderr(), "journal: %d new record(s) copied from the ledger\n", n)
			}
			if journal {
				results, err := store.Outcomes(ctx, runID)
				if err != nil {
					return err
				}
				return reporter.Results(results)
			}
			return nil
		},
	}

	flags := statusCmd.Flags()
	flags.StringSliceVarP(&list, "list", "l", nil, "also list the records of these sets (added, already_exists, not_found, errors)")
	flags.StringVar(&format, "format", reporting.FormatTable, "output format (table, json)")
	flags.BoolVar(&journal, "journal", false, "list outcomes from the journal database")
	flags.BoolVar(&sync, "sync", false, "copy ledger records missing from the journal")
	flags.StringVar(&runID, "run-id", "", "restrict --journal to one run")
	return statusCmd
}
