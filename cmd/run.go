package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/input"
	"github.com/xkilldash9x/catalog-cli/internal/orchestrator"
	"github.com/xkilldash9x/catalog-cli/internal/reporting"
	"github.com/xkilldash9x/catalog-cli/internal/service"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd(a *app) *cobra.Command {
	var (
		files  []string
		format string
	)

	runCmd := &cobra.Command{
		Use:   "run [isbn...]",
		Short: "Submits every pending ISBN and records its outcome",
		Long: `Merges the given ISBNs into the durable queue and processes it in order.
ISBNs come from arguments, from --file lists, or from a queue left by an
earlier run. Each argument may itself hold several comma or semicolon
separated values. Interrupting the run is safe; the next run resumes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger.Named("run")

			if err := a.cfg.ValidateCredentials(); err != nil {
				return schemas.NewError(schemas.KindSetup, "run", err)
			}

			ids, err := input.ParseArgs(args)
			if err != nil {
				return err
			}
			for _, f := range files {
				parsed, err := input.ParseFile(f)
				if err != nil {
					return schemas.NewError(schemas.KindSetup, "run", err)
				}
				ids = append(ids, parsed...)
			}

			// Fail on missing input before a browser is started.
			if len(ids) == 0 {
				q, err := service.OpenLedger(a.cfg, logger)
				if err != nil {
					return err
				}
				if q.Tally().Pending == 0 {
					return schemas.NewError(schemas.KindSetup, "run", input.ErrNoIdentifiers)
				}
			}

			reporter, err := reporting.NewWriter(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer reporter.Close()

			out := cmd.ErrOrStderr()
			progress := orchestrator.WithObserver(func(res schemas.Result) {
				fmt.Fprintf(out, "%-16s %s\n", res.Outcome, res.ISBN)
			})

			components, err := a.factory.Create(ctx, a.cfg, logger, progress)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			sum, runErr := components.Orchestrator.Run(ctx, ids)
			if sum != nil {
				if err := reporter.Summary(sum); err != nil {
					logger.Warn("Could not write run summary.", zap.Error(err))
				}
			}
			return runErr
		},
	}

	flags := runCmd.Flags()
	flags.StringSliceVarP(&files, "file", "f", nil, "file with one or more ISBNs per line (repeatable)")
	flags.StringVar(&format, "format", reporting.FormatTable, "summary format (table, json)")
	flags.Bool("headless", true, "run the browser without a window")
	flags.StringSlice("strategies", nil, "navigation strategies in preference order (menu, direct)")
	flags.Duration("min-interval", 0, "minimum time between two submissions")
	_ = a.v.BindPFlag("browser.headless", flags.Lookup("headless"))
	_ = a.v.BindPFlag("navigation.strategies", flags.Lookup("strategies"))
	_ = a.v.BindPFlag("batch.min_interval", flags.Lookup("min-interval"))
	return runCmd
}
