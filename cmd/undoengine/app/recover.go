package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	runtimeapp "undoengine/internal/app"
)

func initRecover() {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run close_dangling_sets over the configured undo log directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			action := func(ctx context.Context, d *runtimeapp.Deps) error {
				if err := d.Engine.CloseDanglingSets(); err != nil {
					return fmt.Errorf("close dangling sets: %w", err)
				}
				fmt.Printf("crash recovery swept %s\n", d.Cfg.UndoDir)
				return nil
			}

			return runtimeapp.Run(cmd.Context(), &runtimeapp.UndoEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				Action:     action,
			})
		},
	}

	rootCmd.AddCommand(cmd)
}
