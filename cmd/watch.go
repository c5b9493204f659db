package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/internal/queue"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		fromStart bool
		poll      bool
	)
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follows the ledger files and prints outcomes as they are recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchLedger(cmd.Context(), a.cfg.Queue().DataDir, watchOptions{FromStart: fromStart, Poll: poll}, cmd.OutOrStdout(), a.logger.Named("watch"))
		},
	}
	watchCmd.Flags().BoolVar(&fromStart, "from-start", false, "print existing records before following")
	watchCmd.Flags().BoolVar(&poll, "poll", false, "poll for changes instead of using filesystem notifications")
	return watchCmd
}

type watchOptions struct {
	FromStart bool
	Poll      bool
}

type ledgerLine struct {
	set  queue.Set
	line *tail.Line
}

// watchLedger tails every ledger file under dir until ctx is done.
func watchLedger(ctx context.Context, dir string, opts watchOptions, w io.Writer, logger *zap.Logger) error {
	whence := io.SeekEnd
	if opts.FromStart {
		whence = io.SeekStart
	}

	ctx, cancel := context.WithCancel(ctx)
	lines := make(chan ledgerLine)
	var wg sync.WaitGroup
	tails := make([]*tail.Tail, 0, len(queue.Sets))
	defer func() {
		cancel()
		for _, t := range tails {
			_ = t.Stop()
			t.Cleanup()
		}
		wg.Wait()
	}()

	for _, set := range queue.Sets {
		t, err := tail.TailFile(queue.LedgerPath(dir, set), tail.Config{
			Follow:    true,
			ReOpen:    true,
			MustExist: false,
			Poll:      opts.Poll,
			Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
			Logger:    tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("failed to follow %s: %w", set, err)
		}
		tails = append(tails, t)

		wg.Add(1)
		go func(set queue.Set, t *tail.Tail) {
			defer wg.Done()
			// Keep draining after cancellation so the tailer can shut down.
			for l := range t.Lines {
				if ctx.Err() != nil {
					continue
				}
				select {
				case lines <- ledgerLine{set: set, line: l}:
				case <-ctx.Done():
				}
			}
		}(set, t)
	}
	logger.Info("Watching ledger.", zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-lines:
			if l.line.Err != nil {
				logger.Warn("Error while following ledger.", zap.String("set", string(l.set)), zap.Error(l.line.Err))
				continue
			}
			isbn, msg, err := queue.DecodeRecord(l.line.Text)
			if err != nil {
				continue
			}
			outcome := queue.OutcomeOf(l.set, msg)
			if msg == "" {
				fmt.Fprintf(w, "%s %-16s %s\n", l.line.Time.Format("15:04:05"), outcome, isbn)
			} else {
				fmt.Fprintf(w, "%s %-16s %s  %s\n", l.line.Time.Format("15:04:05"), outcome, isbn, msg)
			}
		}
	}
}
