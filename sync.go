package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyderes/catalog-sync/internal/categories"
	"github.com/cyderes/catalog-sync/internal/ingestion"
	"github.com/cyderes/catalog-sync/internal/storage"
)

var syncCmd = &cobra.Command{
	Use:       "sync <catalog|categories>",
	Short:     "Run one sync pass and print the counts",
	ValidArgs: []string{ingestion.TaskCatalog, categories.TaskCategories},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		a.wire()

		task := args[0]
		switch task {
		case ingestion.TaskCatalog:
			err = a.runCatalog(ctx)
		case categories.TaskCategories:
			err = a.runCategories(ctx)
		}
		if err != nil {
			return fmt.Errorf("%s sync failed: %w", task, err)
		}

		status, err := storage.GetSyncStatus(ctx, a.store.Collection(storage.StatusCollection), task)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
