package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/catalog-cli/internal/session"
)

func newResetSessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-session",
		Short: "Deletes the saved session so the next run logs in again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Auth().SnapshotPath
			if err := session.NewFileStore(path).Remove(); err != nil {
				return err
			}
			a.logger.Info("Session snapshot removed.")
			fmt.Fprintf(cmd.OutOrStdout(), "Session snapshot %s removed.\n", path)
			return nil
		},
	}
}
