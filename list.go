package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyderes/catalog-sync/internal/categories"
	"github.com/cyderes/catalog-sync/internal/models"
	"github.com/cyderes/catalog-sync/internal/storage"
)

var listCmd = &cobra.Command{
	Use:       "list <products|categories|sync_status>",
	Short:     "Print a collection as JSON",
	ValidArgs: []string{storage.ProductsCollection, storage.CategoriesCollection, storage.StatusCollection},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		coll := a.store.Collection(args[0])
		var recs []models.Record
		if args[0] == storage.CategoriesCollection {
			recs, err = categories.List(cmd.Context(), coll)
		} else {
			recs, err = coll.List(cmd.Context())
		}
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
